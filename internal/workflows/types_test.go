package workflows

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/convsim/internal/definition"
)

func doc(name string) BatchDocument {
	return BatchDocument{Name: name, Format: definition.FormatYAML, Content: "goal: test\n"}
}

func TestBatchConfig_Validate(t *testing.T) {
	tooMany := make([]BatchDocument, MaxBatchSize+1)
	for i := range tooMany {
		tooMany[i] = doc(fmt.Sprintf("d%d", i))
	}

	tests := []struct {
		name    string
		config  BatchConfig
		wantErr error
	}{
		{"valid", BatchConfig{Documents: []BatchDocument{doc("a"), doc("b")}}, nil},
		{"empty", BatchConfig{}, ErrEmptyField},
		{"too many", BatchConfig{Documents: tooMany}, ErrInvalidInput},
		{"negative parallelism", BatchConfig{Documents: []BatchDocument{doc("a")}, MaxParallel: -1}, ErrInvalidInput},
		{"missing name", BatchConfig{Documents: []BatchDocument{doc("")}}, ErrEmptyField},
		{"bad name", BatchConfig{Documents: []BatchDocument{doc("../etc")}}, ErrInvalidInput},
		{"duplicate name", BatchConfig{Documents: []BatchDocument{doc("a"), doc("a")}}, ErrInvalidInput},
		{"missing content", BatchConfig{Documents: []BatchDocument{{Name: "a", Format: definition.FormatYAML}}}, ErrEmptyField},
		{"bad format", BatchConfig{Documents: []BatchDocument{{Name: "a", Format: "xml", Content: "<a/>"}}}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBatchConfig_Parallelism(t *testing.T) {
	assert.Equal(t, DefaultMaxParallel, (&BatchConfig{}).parallelism())
	assert.Equal(t, 9, (&BatchConfig{MaxParallel: 9}).parallelism())
}
