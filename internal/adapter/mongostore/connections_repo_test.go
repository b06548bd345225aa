package mongostore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/jervisai/jervis/internal/domain"
)

func TestConnectionUpdateRevisionConflict(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("mismatched revision surfaces ErrConflict", func(mt *mtest.T) {
		mt.AddMockResponses(bson.D{
			{Key: "ok", Value: 1},
			{Key: "n", Value: 0},
			{Key: "nModified", Value: 0},
		})
		repo := NewConnectionRepo(mt.DB)
		err := repo.Update(mt.Ctx(), domain.Connection{
			ID:       domain.NewID(),
			Name:     "jira-prod",
			Kind:     domain.ConnectionHTTP,
			Revision: 7,
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrConflict))
	})
}

func TestConnectionFindByIDNotFound(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("empty cursor surfaces ErrNotFound", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.connections", mtest.FirstBatch))
		repo := NewConnectionRepo(mt.DB)
		_, err := repo.FindByID(mt.Ctx(), domain.NewID())
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}
