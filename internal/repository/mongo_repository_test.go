package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestDecodeMongoChange(t *testing.T) {
	oid := primitive.NewObjectID()
	tests := []struct {
		name string
		key  any
		want string
	}{
		{"string id", "t1", "t1"},
		{"object id", oid, oid.Hex()},
		{"numeric id", int32(7), "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := bson.Marshal(bson.M{
				"operationType": "insert",
				"documentKey":   bson.M{"_id": tt.key},
				"clusterTime":   primitive.Timestamp{T: 1710324000, I: 1},
			})
			require.NoError(t, err)

			ev, err := decodeMongoChange("transacoes/2024/03", raw)

			require.NoError(t, err)
			assert.Equal(t, "transacoes/2024/03", ev.Collection)
			assert.Equal(t, []string{tt.want}, ev.DocumentIDs)
			assert.True(t, ev.ReadTime.Equal(time.Unix(1710324000, 0)))
		})
	}
}

func TestDecodeMongoChange_Invalid(t *testing.T) {
	_, err := decodeMongoChange("transacoes/2024/03", bson.Raw{0x01})
	assert.Error(t, err)

	raw, err := bson.Marshal(bson.M{"operationType": "invalidate"})
	require.NoError(t, err)
	_, err = decodeMongoChange("transacoes/2024/03", raw)
	assert.Error(t, err, "a change without a document key cannot be routed")
}
