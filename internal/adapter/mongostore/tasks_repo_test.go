package mongostore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/jervisai/jervis/internal/domain"
)

func TestTaskCasClaimLoser(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("FindOneAndUpdate with no match reports ok=false, not an error", func(mt *mtest.T) {
		mt.AddMockResponses(bson.D{
			{Key: "ok", Value: 1},
			{Key: "value", Value: nil},
		})
		repo := NewTaskRepo(mt.DB)
		_, ok, err := repo.ClaimForQualification(mt.Ctx(), domain.NewID())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestTaskRecoverStale(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("rewinds all three stale states", func(mt *mtest.T) {
		mt.AddMockResponses(
			bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 2}, {Key: "nModified", Value: 2}},
			bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 1}, {Key: "nModified", Value: 1}},
			bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 3}, {Key: "nModified", Value: 3}},
		)
		repo := NewTaskRepo(mt.DB)
		counts, err := repo.RecoverStale(mt.Ctx(), 0)
		require.NoError(t, err)
		assert.EqualValues(t, 2, counts[domain.TaskDispatchedGPU])
		assert.EqualValues(t, 1, counts[domain.TaskQualifying])
		assert.EqualValues(t, 3, counts[domain.TaskPythonOrchestrating])
	})
}
