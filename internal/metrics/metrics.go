package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BytesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nnue_export_bytes_read_total",
		Help: "Bytes consumed from training checkpoints",
	})

	BytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nnue_export_bytes_written_total",
		Help: "Bytes written to deployment models",
	})

	TensorsConverted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nnue_export_tensors_total",
		Help: "Tensors quantized and written, by tensor name",
	}, []string{"tensor"})

	QuantizationOverflow = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nnue_export_quantization_overflow_total",
		Help: "Quantized values outside their target integer range",
	}, []string{"tensor"})

	QuantizationAbsError = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nnue_export_quantization_abs_error",
		Help: "Largest absolute rounding error of the last conversion, in float units",
	}, []string{"tensor"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nnue_export_stage_duration_seconds",
		Help:    "Duration of pipeline stages",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nnue_export_errors_total",
		Help: "Pipeline failures by stage and kind",
	}, []string{"stage", "kind"})

	LastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nnue_export_last_success_timestamp_seconds",
		Help: "Unix time of the last successful conversion",
	})
)

func RecordRead(bytes int64) {
	BytesRead.Add(float64(bytes))
}

func RecordWrite(bytes int64) {
	BytesWritten.Add(float64(bytes))
}

func RecordTensor(name string, overflow int, maxAbsError float64) {
	TensorsConverted.WithLabelValues(name).Inc()
	if overflow > 0 {
		QuantizationOverflow.WithLabelValues(name).Add(float64(overflow))
	}
	QuantizationAbsError.WithLabelValues(name).Set(maxAbsError)
}

func RecordStage(stage string, duration time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func RecordError(stage, kind string) {
	Errors.WithLabelValues(stage, kind).Inc()
}

func RecordSuccess(at time.Time) {
	LastSuccess.Set(float64(at.Unix()))
}

// WriteTextfile dumps the default registry in the node_exporter textfile
// format. A one-shot converter exits before any scrape could happen.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
