// Package api serves the act operator namespace over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/actkernel/internal/device"
	"github.com/samcharles93/actkernel/internal/dtype"
	"github.com/samcharles93/actkernel/internal/kernel"
	"github.com/samcharles93/actkernel/internal/logger"
	"github.com/samcharles93/actkernel/internal/scale"
	"github.com/samcharles93/actkernel/internal/tensor"
	"github.com/samcharles93/actkernel/pkg/act"
)

const opsPrefix = "/v1/ops/" + act.Namespace + "/"

// Server runs each request on its own stream so a failed op cannot poison
// later requests.
type Server struct {
	dev     *device.Device
	engine  *kernel.Engine
	log     logger.Logger
	timeout time.Duration
}

type Options struct {
	// Timeout bounds the wait for a single op. Zero means no limit beyond
	// the request context.
	Timeout time.Duration
	Logger  logger.Logger
}

func NewServer(dev *device.Device, engine *kernel.Engine, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		dev:     dev,
		engine:  engine,
		log:     log.With("component", "api"),
		timeout: opts.Timeout,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/device", s.handleDevice)
	e.GET("/v1/ops", s.handleListOps)

	e.POST(opsPrefix+act.OpQuantMatmul, s.handleQuantMatmul)
	e.POST(opsPrefix+act.OpBatchedQuantMatmul, s.handleBatchedQuantMatmul)
	e.POST(opsPrefix+act.OpOptimizedQuantMatmul, s.handleOptimizedQuantMatmul)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDevice(c *echo.Context) error {
	return c.JSON(http.StatusOK, DeviceResponse{Object: "device", Device: s.dev.Info()})
}

func (s *Server) handleListOps(c *echo.Context) error {
	names := []string{act.OpQuantMatmul, act.OpBatchedQuantMatmul, act.OpOptimizedQuantMatmul}
	qualified := act.Names()
	resp := OpsResponse{Object: "list", Namespace: act.Namespace, Data: make([]OpInfo, len(names))}
	for i, name := range names {
		resp.Data[i] = OpInfo{
			Name:      name,
			Qualified: qualified[i],
			Schema:    act.Schemas[name],
			Path:      opsPrefix + name,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleQuantMatmul(c *echo.Context) error {
	req, err := decodeJSON[QuantMatmulRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	a, b, err := decodeOperands(&req.A, &req.B)
	if err != nil {
		return writeOpError(c, act.OpQuantMatmul, err)
	}
	var col, row *tensor.Tensor
	if req.Scale.isVector() {
		if col, err = decodeTensor("scale.col", req.Scale.Col, dtype.Float32); err != nil {
			return writeOpError(c, act.OpQuantMatmul, err)
		}
		if row, err = decodeTensor("scale.row", req.Scale.Row, dtype.Float32); err != nil {
			return writeOpError(c, act.OpQuantMatmul, err)
		}
	}

	return s.run(c, act.OpQuantMatmul, func(ops *act.Ops) (*tensor.Tensor, error) {
		if req.Scale.isVector() {
			return ops.QuantMatmul(a, b, col, row, req.OutDType)
		}
		dt, err := parseOutDType(act.OpQuantMatmul, req.OutDType)
		if err != nil {
			return nil, err
		}
		return ops.Engine().QuantMatmulScaled(ops.Stream(), a, b, scale.Scalar(req.Scale.scalar()), dt)
	})
}

func (s *Server) handleBatchedQuantMatmul(c *echo.Context) error {
	req, err := decodeJSON[BatchedQuantMatmulRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	a, b, err := decodeOperands(&req.A, &req.B)
	if err != nil {
		return writeOpError(c, act.OpBatchedQuantMatmul, err)
	}

	return s.run(c, act.OpBatchedQuantMatmul, func(ops *act.Ops) (*tensor.Tensor, error) {
		out, err := allocBatchedOut(a, b, req.OutDType)
		if err != nil {
			return nil, err
		}
		if err := ops.BatchedQuantMatmul(a, b, out, req.OutDType, scalarOr1(req.Scale)); err != nil {
			return nil, err
		}
		return out, nil
	})
}

func (s *Server) handleOptimizedQuantMatmul(c *echo.Context) error {
	req, err := decodeJSON[OptimizedQuantMatmulRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	a, b, err := decodeOperands(&req.A, &req.B)
	if err != nil {
		return writeOpError(c, act.OpOptimizedQuantMatmul, err)
	}

	return s.run(c, act.OpOptimizedQuantMatmul, func(ops *act.Ops) (*tensor.Tensor, error) {
		return ops.OptimizedQuantMatmul(a, b, scalarOr1(req.Scale), req.OutDType)
	})
}

// run enqueues one op bracketed by events on a fresh stream, waits for it
// and writes the result.
func (s *Server) run(c *echo.Context, op string, call func(ops *act.Ops) (*tensor.Tensor, error)) error {
	ctx := c.Request().Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	stream := s.dev.NewStream()
	abandoned := false
	defer func() {
		// Close drains the queue. A timed-out op must not hold the response.
		if abandoned {
			go func() { _ = stream.Close() }()
			return
		}
		_ = stream.Close()
	}()
	ops := act.New(s.engine, stream)

	start, err := stream.Record()
	if err != nil {
		return writeOpError(c, op, err)
	}
	out, err := call(ops)
	if err != nil {
		return writeOpError(c, op, err)
	}
	end, err := stream.Record()
	if err != nil {
		return writeOpError(c, op, err)
	}
	if err := ops.Synchronize(ctx); err != nil {
		abandoned = ctx.Err() != nil
		s.log.Warn("op failed", "op", op, "error", err)
		return writeOpError(c, op, err)
	}
	elapsed, err := start.Elapsed(end)
	if err != nil {
		return writeOpError(c, op, err)
	}

	id := "op_" + uuid.NewString()
	s.log.Debug("op complete", "id", id, "op", op, "shape", out.Shape, "elapsed", elapsed)
	return c.JSON(http.StatusOK, OpResponse{
		ID:        id,
		Object:    "op.result",
		Op:        act.Namespace + "::" + op,
		Shape:     out.Shape,
		DType:     out.DType.String(),
		Data:      out.ToFloat32(),
		ElapsedUS: elapsed.Microseconds(),
	})
}

func decodeOperands(a, b *TensorJSON) (*tensor.Tensor, *tensor.Tensor, error) {
	ta, err := decodeTensor("a", a, dtype.Int8)
	if err != nil {
		return nil, nil, err
	}
	tb, err := decodeTensor("b", b, dtype.Int8)
	if err != nil {
		return nil, nil, err
	}
	return ta, tb, nil
}

// allocBatchedOut sizes out from the operands. Operands of the wrong rank
// get no buffer and are rejected by the kernel.
func allocBatchedOut(a, b *tensor.Tensor, outDType string) (*tensor.Tensor, error) {
	dt, err := parseOutDType(act.OpBatchedQuantMatmul, outDType)
	if err != nil {
		return nil, err
	}
	if a.Rank() != 3 || b.Rank() != 3 {
		return nil, nil
	}
	return tensor.New(dt, a.Dim(0), a.Dim(1), b.Dim(2))
}

func parseOutDType(op, name string) (dtype.DType, error) {
	dt, err := dtype.Parse(name)
	if err != nil {
		return dtype.Invalid, &tensor.DTypeError{Op: op, What: "out_dtype " + name, Got: dtype.Invalid}
	}
	return dt, nil
}

func scalarOr1(v *float32) float32 {
	if v == nil {
		return 1
	}
	return *v
}
