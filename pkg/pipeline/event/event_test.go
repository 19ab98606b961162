package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		wantOp   Operation
		wantID   string
		wantItem bool
	}{
		{
			name:     "producer create with uuid",
			input:    `{"operation_type":3,"item_id":"6f1c0a4e-8a43-4a8e-9d0f-3f3c2f5f6b7a","item":{"id":"6f1c0a4e-8a43-4a8e-9d0f-3f3c2f5f6b7a","name":"Test Product","price":100,"category":"Electronics"}}`,
			wantOp:   OpCreate,
			wantID:   "6f1c0a4e-8a43-4a8e-9d0f-3f3c2f5f6b7a",
			wantItem: true,
		},
		{
			name:   "delete with numeric id and null item",
			input:  `{"operation_type":1,"item_id":42,"item":null}`,
			wantOp: OpDelete,
			wantID: "42",
		},
		{
			name:     "operation alias",
			input:    `{"operation":2,"item_id":"a","item":{"name":"x"}}`,
			wantOp:   OpChange,
			wantID:   "a",
			wantItem: true,
		},
		{
			name:   "unknown operation still decodes",
			input:  `{"operation_type":9,"item_id":7}`,
			wantOp: Operation(9),
			wantID: "7",
		},
		{
			name:   "missing operation",
			input:  `{"item_id":7}`,
			wantOp: Operation(0),
			wantID: "7",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := Decode([]byte(tc.input))
			require.NoError(t, err)
			assert.Equal(t, tc.wantOp, env.Operation)
			assert.Equal(t, tc.wantID, env.ItemID.String())
			assert.Equal(t, tc.wantItem, env.Item != nil)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, input := range []string{
		`not json`,
		`{"operation_type":"three"}`,
		`{"operation_type":3.5}`,
		`{"operation_type":3,"item_id":true}`,
		`{"operation_type":3,"item":{"price":"cheap"}}`,
	} {
		_, err := Decode([]byte(input))
		assert.Error(t, err, input)
	}
}

func TestEncodeKeepsIDKindAndExtraFields(t *testing.T) {
	env, err := Decode([]byte(`{"operation_type":3,"item":{"id":1,"name":"n","price":5,"category":"c","stock":10}}`))
	require.NoError(t, err)
	require.NotNil(t, env.Item)
	assert.JSONEq(t, `10`, string(env.Item.Extra["stock"]))

	data, err := Encode(env)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"operation_type":3,"item":{"id":1,"name":"n","description":null,"price":5,"category":"c","stock":10}}`,
		string(data))
}

func TestEncodeDelete(t *testing.T) {
	data, err := Encode(NewDelete(NumericID(42)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"operation_type":1,"item_id":42}`, string(data))

	data, err = Encode(NewDelete(StringID("abc")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"operation_type":1,"item_id":"abc"}`, string(data))
}

func TestConstructors(t *testing.T) {
	price := 3.5
	item := Item{ID: StringID("x"), Name: "n", Price: &price}

	create := NewCreate(item)
	assert.Equal(t, OpCreate, create.Operation)
	assert.Equal(t, "x", create.ItemID.String())

	change := NewChange(StringID("y"), item)
	assert.Equal(t, OpChange, change.Operation)
	assert.Equal(t, "y", change.Identifier())

	del := NewDelete(ID{})
	assert.Equal(t, "", del.Identifier())
}

func TestCloneIsDeep(t *testing.T) {
	price := 1.0
	desc := "d"
	env := NewCreate(Item{
		ID:          NumericID(1),
		Price:       &price,
		Description: &desc,
		Extra:       map[string]json.RawMessage{"stock": json.RawMessage(`1`)},
	})

	c := env.Clone()
	*c.Item.Price = 2
	*c.Item.Description = "changed"
	c.Item.Extra["stock"][0] = '9'

	assert.Equal(t, 1.0, *env.Item.Price)
	assert.Equal(t, "d", *env.Item.Description)
	assert.Equal(t, `1`, string(env.Item.Extra["stock"]))
}

func TestOperation(t *testing.T) {
	assert.True(t, OpCreate.Valid())
	assert.False(t, Operation(0).Valid())
	assert.False(t, Operation(9).Valid())
	assert.True(t, OpChange.HasItem())
	assert.False(t, OpDelete.HasItem())
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "UNKNOWN(9)", Operation(9).String())
}
