package main

import (
	"github.com/jervisai/jervis/internal/domain"
	"github.com/jervisai/jervis/internal/service/taskengine"
)

// alwaysGPUQualifier is the default C9 Qualifier: no small-model
// classifier client is shipped (DESIGN.md decision 2, out of scope per
// spec.md §1's "prompt templates" exclusion), so every task is routed
// straight to GPU execution rather than silently short-circuited as
// Simple. A deployment wanting the qualification short-circuit supplies
// its own taskengine.Qualifier in place of this one.
type alwaysGPUQualifier struct{}

func (alwaysGPUQualifier) Qualify(ctx domain.Context, t domain.Task) (taskengine.Verdict, error) {
	return taskengine.Verdict{Simple: false}, nil
}
