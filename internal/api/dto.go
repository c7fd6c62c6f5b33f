package api

import (
	"bytes"
	"fmt"
	"math"

	"github.com/goccy/go-json"

	"github.com/samcharles93/actkernel/internal/device"
	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/tensor"
)

// TensorJSON is a dense row-major tensor on the wire. Operands default to
// int8 and scale vectors to float32 when DType is empty.
type TensorJSON struct {
	Shape []int     `json:"shape"`
	DType string    `json:"dtype,omitempty"`
	Data  []float64 `json:"data"`
}

// ScaleParam is either a JSON number or an object of per-channel and
// per-token vectors.
type ScaleParam struct {
	Value *float32
	Col   *TensorJSON
	Row   *TensorJSON
}

type scaleVectors struct {
	Col *TensorJSON `json:"col,omitempty"`
	Row *TensorJSON `json:"row,omitempty"`
}

func (s *ScaleParam) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '{' {
		var v scaleVectors
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("scale: %w", err)
		}
		s.Col, s.Row = v.Col, v.Row
		return nil
	}
	var f float32
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("scale: expected number or {col,row} object: %w", err)
	}
	s.Value = &f
	return nil
}

func (s ScaleParam) MarshalJSON() ([]byte, error) {
	if s.Value != nil {
		return json.Marshal(*s.Value)
	}
	if s.Col == nil && s.Row == nil {
		return []byte("null"), nil
	}
	return json.Marshal(scaleVectors{Col: s.Col, Row: s.Row})
}

func (s *ScaleParam) isVector() bool {
	return s != nil && (s.Col != nil || s.Row != nil)
}

// scalar returns the uniform value, 1 when absent.
func (s *ScaleParam) scalar() float32 {
	if s == nil || s.Value == nil {
		return 1
	}
	return *s.Value
}

type QuantMatmulRequest struct {
	A        TensorJSON  `json:"a"`
	B        TensorJSON  `json:"b"`
	Scale    *ScaleParam `json:"scale,omitempty"`
	OutDType string      `json:"out_dtype"`
}

type BatchedQuantMatmulRequest struct {
	A        TensorJSON `json:"a"`
	B        TensorJSON `json:"b"`
	Scale    *float32   `json:"scale,omitempty"`
	OutDType string     `json:"out_dtype"`
}

type OptimizedQuantMatmulRequest struct {
	A        TensorJSON `json:"a"`
	B        TensorJSON `json:"b"`
	Scale    *float32   `json:"scale,omitempty"`
	OutDType string     `json:"out_dtype"`
}

type OpResponse struct {
	ID        string    `json:"id"`
	Object    string    `json:"object"`
	Op        string    `json:"op"`
	Shape     []int     `json:"shape"`
	DType     string    `json:"dtype"`
	Data      []float32 `json:"data"`
	ElapsedUS int64     `json:"elapsed_us"`
}

type OpInfo struct {
	Name      string `json:"name"`
	Qualified string `json:"qualified"`
	Schema    string `json:"schema"`
	Path      string `json:"path"`
}

type OpsResponse struct {
	Object    string   `json:"object"`
	Namespace string   `json:"namespace"`
	Data      []OpInfo `json:"data"`
}

type DeviceResponse struct {
	Object string      `json:"object"`
	Device device.Info `json:"device"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
}

// decodeTensor validates a wire tensor and converts it to storage.
func decodeTensor(what string, tj *TensorJSON, def dtype.DType) (*tensor.Tensor, error) {
	if tj == nil {
		return nil, nil
	}
	dt := def
	if tj.DType != "" {
		var err error
		if dt, err = dtype.Parse(tj.DType); err != nil {
			return nil, &tensor.DTypeError{Op: "decode", What: fmt.Sprintf("%s dtype %q", what, tj.DType), Got: dtype.Invalid}
		}
	}
	if len(tj.Shape) == 0 {
		return nil, newInvalidRequest(what + ": shape is required")
	}
	n, err := tensor.NumElements(tj.Shape)
	if err != nil {
		return nil, newInvalidRequest(what + ": " + err.Error())
	}
	if err := tensor.CheckDim("decode", what+" data length", len(tj.Data), n); err != nil {
		return nil, err
	}

	switch dt {
	case dtype.Int8:
		vals := make([]int8, n)
		for i, v := range tj.Data {
			if v != math.Trunc(v) || v < math.MinInt8 || v > math.MaxInt8 {
				return nil, newInvalidRequest(fmt.Sprintf("%s[%d] = %v is not an int8", what, i, v))
			}
			vals[i] = int8(v)
		}
		return tensor.FromInt8(tj.Shape, vals)
	case dtype.Float16, dtype.BFloat16, dtype.Float32:
		vals := make([]float32, n)
		for i, v := range tj.Data {
			vals[i] = float32(v)
		}
		return tensor.FromFloat32(dt, tj.Shape, vals)
	default:
		return nil, &tensor.DTypeError{Op: "decode", What: what, Got: dt}
	}
}
