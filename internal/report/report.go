// Package report writes a per-tensor quantization summary as an Arrow IPC
// file, one row per deployment region, so conversions can be compared in
// any Arrow-aware tool.
package report

import (
	"fmt"
	"os"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/23skdu/nnue-export/internal/model"
	"github.com/23skdu/nnue-export/internal/quant"
)

const (
	MetaRunID  = "nnue_export.run_id"
	MetaSource = "nnue_export.source"
)

// Schema returns the Arrow schema of the report with run metadata attached.
func Schema(runID, source string) *arrow.Schema {
	md := arrow.NewMetadata([]string{MetaRunID, MetaSource}, []string{runID, source})
	return arrow.NewSchema([]arrow.Field{
		{Name: "tensor", Type: arrow.BinaryTypes.String},
		{Name: "dtype", Type: arrow.BinaryTypes.String},
		{Name: "scale", Type: arrow.PrimitiveTypes.Int64},
		{Name: "count", Type: arrow.PrimitiveTypes.Int64},
		{Name: "offset", Type: arrow.PrimitiveTypes.Int64},
		{Name: "bytes", Type: arrow.PrimitiveTypes.Int64},
		{Name: "min", Type: arrow.PrimitiveTypes.Float64},
		{Name: "max", Type: arrow.PrimitiveTypes.Float64},
		{Name: "overflow", Type: arrow.PrimitiveTypes.Int64},
		{Name: "max_abs_error", Type: arrow.PrimitiveTypes.Float64},
	}, &md)
}

// Build assembles the report record. stats must be in write order, one
// entry per region.
func Build(mem memory.Allocator, runID, source string, regions []model.Region, stats []quant.Stats) (arrow.Record, error) {
	if len(regions) != len(stats) {
		return nil, fmt.Errorf("report: %d regions but %d stats", len(regions), len(stats))
	}

	b := array.NewRecordBuilder(mem, Schema(runID, source))
	defer b.Release()

	for i, st := range stats {
		r := regions[i]
		if r.Name != st.Name {
			return nil, fmt.Errorf("report: region %d is %s but stats are for %s", i, r.Name, st.Name)
		}
		b.Field(0).(*array.StringBuilder).Append(st.Name)
		b.Field(1).(*array.StringBuilder).Append(st.Type.String())
		b.Field(2).(*array.Int64Builder).Append(int64(st.Scale))
		b.Field(3).(*array.Int64Builder).Append(int64(st.Count))
		b.Field(4).(*array.Int64Builder).Append(r.Offset)
		b.Field(5).(*array.Int64Builder).Append(r.Length)
		b.Field(6).(*array.Float64Builder).Append(st.Min)
		b.Field(7).(*array.Float64Builder).Append(st.Max)
		b.Field(8).(*array.Int64Builder).Append(int64(st.Overflow))
		b.Field(9).(*array.Float64Builder).Append(st.MaxAbsError)
	}
	return b.NewRecord(), nil
}

// WriteFile writes the report to path as an Arrow IPC file.
func WriteFile(path, runID, source string, regions []model.Region, stats []quant.Stats) error {
	mem := memory.NewGoAllocator()
	rec, err := Build(mem, runID, source, regions, stats)
	if err != nil {
		return err
	}
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("open report writer: %w", err)
	}
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close report writer: %w", err)
	}
	return f.Close()
}
