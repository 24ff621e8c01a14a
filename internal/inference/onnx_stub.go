//go:build !cgo
// +build !cgo

package inference

import (
	"errors"

	"github.com/hyperjump/fastembed/pkg/models"

	fserrors "github.com/hyperjump/fastembed/pkg/errors"
)

// LoadONNX returns an error when built without CGO (ONNX not available).
func LoadONNX(_ string, _ models.ModelSpec, _ Options) (Runtime, error) {
	return nil, fserrors.ModelLoad("onnx.init", errors.New("ONNX runtime requires CGO; build with CGO_ENABLED=1 and onnxruntime"))
}

// DefaultLoader loads weights with onnxruntime.
var DefaultLoader Loader = LoadONNX
