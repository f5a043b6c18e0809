package pipeline

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/23skdu/nnue-export/internal/checkpoint"
	"github.com/23skdu/nnue-export/internal/collapse"
	"github.com/23skdu/nnue-export/internal/config"
	"github.com/23skdu/nnue-export/internal/export"
	"github.com/23skdu/nnue-export/internal/logger"
	"github.com/23skdu/nnue-export/internal/metrics"
	"github.com/23skdu/nnue-export/internal/model"
	"github.com/23skdu/nnue-export/internal/quant"
	"github.com/23skdu/nnue-export/internal/report"
)

const (
	DefaultInput  = "run1_WDL/weights/500.state"
	DefaultOutput = "exported.nn"
)

// verifyEpsilon absorbs float32 rounding of f*scale for scales that are not
// powers of two.
const verifyEpsilon = 1e-6

// ErrVerify is returned when a written model does not decode back to the
// values it was built from.
var ErrVerify = errors.New("verification failed")

type Options struct {
	Input  string
	Output string
	Layout config.Layout

	CheckOverflow bool
	Verify        bool

	// ReportPath, when set, receives an Arrow IPC quantization report.
	ReportPath string
	// MetricsFile, when set, receives Prometheus metrics in textfile format.
	MetricsFile string
}

func DefaultOptions() Options {
	return Options{
		Input:  DefaultInput,
		Output: DefaultOutput,
		Layout: config.DefaultLayout(),
	}
}

type Result struct {
	RunID        string
	BytesRead    int64
	BytesWritten int64
	Stats        []quant.Stats
	Regions      []model.Region
}

// Run converts the checkpoint at opts.Input into a deployment model at
// opts.Output. Verification and the report run against the staged file,
// so any error aborts the conversion before the output is renamed into
// place.
func Run(opts Options) (*Result, error) {
	res := &Result{RunID: uuid.NewString()}
	log := logger.Log.With("run_id", res.RunID)

	err := run(opts, res, log)
	if opts.MetricsFile != "" {
		if mErr := metrics.WriteTextfile(opts.MetricsFile); mErr != nil {
			log.Warn("metrics textfile not written", "path", opts.MetricsFile, "error", mErr)
		}
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func run(opts Options, res *Result, log *logger.Logger) error {
	s, err := model.NewSchema(opts.Layout)
	if err != nil {
		metrics.RecordError("config", kindOf(err))
		return err
	}
	log.Info("starting conversion", "input", opts.Input, "output", opts.Output,
		"input_bytes", s.InputBytes(), "output_bytes", s.OutputBytes())

	start := time.Now()
	ckpt, err := checkpoint.LoadFile(opts.Input, s)
	if err != nil {
		metrics.RecordError("read", kindOf(err))
		return fmt.Errorf("read checkpoint %s: %w", opts.Input, err)
	}
	res.BytesRead = s.InputBytes()
	metrics.RecordStage("read", time.Since(start))

	start = time.Now()
	collapsed, err := collapse.CollapseLayout(ckpt.Get(model.FTWeights), opts.Layout)
	if err != nil {
		metrics.RecordError("collapse", kindOf(err))
		return fmt.Errorf("collapse feature transformer: %w", err)
	}
	metrics.RecordStage("collapse", time.Since(start))
	log.Debug("virtual features collapsed", "real_rows", collapsed.Rows, "virtual_rows", opts.Layout.VirtualFeatures())

	tensors := make(map[model.TensorID]*model.Tensor, len(ckpt.Tensors))
	for id, t := range ckpt.Tensors {
		tensors[id] = t
	}
	tensors[model.FTWeights] = collapsed

	start = time.Now()
	qs, stats, err := quant.QuantizeAll(tensors, s, quant.Options{CheckOverflow: opts.CheckOverflow})
	if err != nil {
		metrics.RecordError("quantize", kindOf(err))
		return fmt.Errorf("quantize: %w", err)
	}
	metrics.RecordStage("quantize", time.Since(start))
	res.Stats = stats
	res.Regions = s.OutputRegions()

	start = time.Now()
	staged, err := export.Stage(opts.Output, s, qs)
	if err != nil {
		metrics.RecordError("write", kindOf(err))
		return fmt.Errorf("write deployment model %s: %w", opts.Output, err)
	}
	defer staged.Abort()
	metrics.RecordStage("write", time.Since(start))

	if opts.Verify {
		start = time.Now()
		if err := Verify(staged.TempPath(), s, tensors, stats); err != nil {
			metrics.RecordError("verify", kindOf(err))
			return err
		}
		metrics.RecordStage("verify", time.Since(start))
		log.Info("deployment model verified", "path", opts.Output)
	}

	if opts.ReportPath != "" {
		if err := report.WriteFile(opts.ReportPath, res.RunID, opts.Input, res.Regions, stats); err != nil {
			metrics.RecordError("report", kindOf(err))
			return fmt.Errorf("write report %s: %w", opts.ReportPath, err)
		}
		log.Info("quantization report written", "path", opts.ReportPath)
	}

	if err := staged.Commit(); err != nil {
		metrics.RecordError("write", kindOf(err))
		if opts.ReportPath != "" {
			if rmErr := os.Remove(opts.ReportPath); rmErr != nil {
				log.Warn("failed to remove report", "path", opts.ReportPath, "error", rmErr)
			}
		}
		return fmt.Errorf("write deployment model %s: %w", opts.Output, err)
	}
	res.BytesWritten = staged.Bytes()

	var overflow int
	for _, st := range stats {
		overflow += st.Overflow
	}
	metrics.RecordSuccess(time.Now())
	log.Info("conversion complete", "bytes_read", res.BytesRead, "bytes_written", res.BytesWritten, "overflow", overflow)
	return nil
}

// Verify decodes the model at path and checks every value that fit its
// target type against the float tensors it came from.
func Verify(path string, s *model.Schema, tensors map[model.TensorID]*model.Tensor, stats []quant.Stats) error {
	qs, err := export.DecodeFile(path, s)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerify, err)
	}
	for _, id := range s.WriteOrder {
		sp := s.Spec(id)
		src := tensors[id]
		q := qs[id]
		scale := float64(sp.Scale)
		for i, f := range src.Data {
			if !quant.InRange(quant.Round(float64(f)*scale), sp.Type) {
				continue
			}
			bound := verifyEpsilon * math.Max(1, math.Abs(float64(f)))
			if sp.Type.IsInteger() {
				bound += 0.5 / scale
			}
			decoded := q.At(i) / scale
			if d := math.Abs(decoded - float64(f)); d > bound {
				return fmt.Errorf("%w: %s[%d] decodes to %v, source %v", ErrVerify, sp.Name, i, decoded, f)
			}
		}
	}
	for _, st := range stats {
		if st.Type.IsInteger() && st.MaxAbsError > st.ErrorBound()+verifyEpsilon {
			return fmt.Errorf("%w: %s rounding error %v exceeds %v", ErrVerify, st.Name, st.MaxAbsError, st.ErrorBound())
		}
	}
	return nil
}

func kindOf(err error) string {
	switch {
	case errors.Is(err, config.ErrInvalidLayout):
		return "invalid_layout"
	case errors.Is(err, model.ErrMalformedInput):
		return "malformed_input"
	case errors.Is(err, model.ErrQuantizationOverflow):
		return "quantization_overflow"
	case errors.Is(err, ErrVerify):
		return "verify"
	default:
		return "io"
	}
}
