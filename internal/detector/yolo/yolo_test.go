package yolo

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMissingModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = filepath.Join(t.TempDir(), "absent.onnx")

	d, err := New(cfg)
	require.Error(t, err)
	assert.Nil(t, d)
	assert.Contains(t, err.Error(), "model file not found")
}

func TestClassName(t *testing.T) {
	d := &Detector{config: Config{Classes: []string{"garbage", "bottle"}}}
	assert.Equal(t, "bottle", d.className(1))
	assert.Equal(t, "class_7", d.className(7))
	assert.Equal(t, "class_-1", d.className(-1))
}
