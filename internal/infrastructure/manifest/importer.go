package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	appinv "github.com/clinic/backend/internal/application/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Manifest columns
const (
	ColProductID         = "product_id"
	ColProductType       = "product_type"
	ColBatchNumber       = "batch_number"
	ColQuantityReceived  = "quantity_received"
	ColQuantityRemaining = "quantity_remaining"
	ColExpiryDate        = "expiry_date"
	ColReceivedDate      = "received_date"
	ColUnitCost          = "unit_cost"
	ColSupplier          = "supplier"
	ColManufacturer      = "manufacturer"
	ColStorageLocation   = "storage_location"
	ColNotes             = "notes"
)

// DateLayout is the calendar date format of expiry_date and received_date
const DateLayout = "2006-01-02"

// RequiredColumns must be present in every manifest header
var RequiredColumns = []string{ColProductID, ColProductType, ColBatchNumber, ColQuantityReceived, ColExpiryDate}

// Receiver records one received batch
type Receiver interface {
	Receive(ctx context.Context, req appinv.ReceiveBatchRequest, actor string) (*appinv.BatchResponse, error)
}

// Options controls an import run
type Options struct {
	Actor string
	// DryRun validates every row without receiving anything
	DryRun    bool
	MaxErrors int
}

// Result summarizes an import run
type Result struct {
	TotalRows   int         `json:"total_rows"`
	ValidRows   int         `json:"valid_rows"`
	Received    []uuid.UUID `json:"received"`
	Errors      []RowError  `json:"errors,omitempty"`
	TotalErrors int         `json:"total_errors"`
	IsTruncated bool        `json:"is_truncated,omitempty"`
	DryRun      bool        `json:"dry_run,omitempty"`
}

// Importer turns manifest rows into batch receipts. Each row is received in
// its own transaction, so one rejected row does not undo the others.
type Importer struct {
	receiver Receiver
	logger   *zap.Logger
}

// NewImporter creates an Importer
func NewImporter(receiver Receiver, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{receiver: receiver, logger: logger.Named("manifest")}
}

type parsedRow struct {
	line int
	req  appinv.ReceiveBatchRequest
}

// Import validates the whole manifest first, then receives the valid rows.
// File-level problems (encoding, header) are returned as errors; row-level
// problems are collected in the result.
func (im *Importer) Import(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	if opts.Actor == "" {
		return nil, errors.New("actor is required")
	}

	parser, err := NewParser(r)
	if err != nil {
		return nil, err
	}
	if err := parser.ParseHeader(); err != nil {
		return nil, err
	}
	if missing := parser.MissingHeaders(RequiredColumns); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %v", ErrMissingHeader, missing)
	}

	errs := NewErrorCollection(opts.MaxErrors)
	result := &Result{DryRun: opts.DryRun}

	var rows []parsedRow
	seen := make(map[string]int)
	for {
		row, err := parser.ReadRow()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.TotalRows++
			errs.Add(RowError{Line: parser.line, Code: ErrCodeMalformedRow, Message: err.Error()})
			continue
		}
		if row.IsEmpty() {
			continue
		}
		result.TotalRows++

		req, ok := parseRow(row, errs)
		if !ok {
			continue
		}
		if first, dup := seen[req.BatchNumber]; dup {
			errs.Add(RowError{Line: row.Line, Column: ColBatchNumber, Code: ErrCodeDuplicateInFile,
				Message: fmt.Sprintf("batch number also on line %d", first), Value: req.BatchNumber})
			continue
		}
		seen[req.BatchNumber] = row.Line
		rows = append(rows, parsedRow{line: row.Line, req: req})
	}
	result.ValidRows = len(rows)

	if !opts.DryRun {
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			resp, err := im.receiver.Receive(ctx, row.req, opts.Actor)
			if err != nil {
				errs.Add(RowError{Line: row.line, Code: ErrCodeRejected, Message: err.Error(), Value: row.req.BatchNumber})
				continue
			}
			result.Received = append(result.Received, resp.ID)
		}
	}

	result.Errors = errs.Errors()
	result.TotalErrors = errs.TotalCount()
	result.IsTruncated = errs.IsTruncated()

	im.logger.Info("Manifest processed",
		zap.String("actor", opts.Actor),
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("rows", result.TotalRows),
		zap.Int("valid", result.ValidRows),
		zap.Int("received", len(result.Received)),
		zap.Int("errors", result.TotalErrors),
	)
	return result, nil
}

// parseRow converts field formats. Business rules (quantities, product type
// values, expiry after receipt) are left to the receiver.
func parseRow(row *Row, errs *ErrorCollection) (appinv.ReceiveBatchRequest, bool) {
	var req appinv.ReceiveBatchRequest
	before := errs.TotalCount()

	for _, col := range RequiredColumns {
		if row.Get(col) == "" {
			errs.addRequired(row.Line, col)
		}
	}
	if errs.TotalCount() > before {
		return req, false
	}

	id, err := uuid.Parse(row.Get(ColProductID))
	if err != nil {
		errs.addFormat(row.Line, ColProductID, "UUID", row.Get(ColProductID))
	}
	req.ProductID = id
	req.ProductType = row.Get(ColProductType)
	req.BatchNumber = row.Get(ColBatchNumber)

	if n, err := strconv.Atoi(row.Get(ColQuantityReceived)); err != nil {
		errs.addFormat(row.Line, ColQuantityReceived, "integer", row.Get(ColQuantityReceived))
	} else {
		req.QuantityReceived = n
	}
	if v := row.Get(ColQuantityRemaining); v != "" {
		if n, err := strconv.Atoi(v); err != nil {
			errs.addFormat(row.Line, ColQuantityRemaining, "integer", v)
		} else {
			req.QuantityRemaining = &n
		}
	}

	if d, err := time.Parse(DateLayout, row.Get(ColExpiryDate)); err != nil {
		errs.addFormat(row.Line, ColExpiryDate, DateLayout, row.Get(ColExpiryDate))
	} else {
		req.ExpiryDate = d
	}
	if v := row.Get(ColReceivedDate); v != "" {
		if d, err := time.Parse(DateLayout, v); err != nil {
			errs.addFormat(row.Line, ColReceivedDate, DateLayout, v)
		} else {
			req.ReceivedDate = &d
		}
	}

	if v := row.Get(ColUnitCost); v != "" {
		if cost, err := decimal.NewFromString(v); err != nil {
			errs.addFormat(row.Line, ColUnitCost, "decimal", v)
		} else {
			req.UnitCost = &cost
		}
	}

	req.Supplier = row.Get(ColSupplier)
	req.Manufacturer = row.Get(ColManufacturer)
	req.StorageLocation = row.Get(ColStorageLocation)
	req.Notes = row.Get(ColNotes)

	return req, errs.TotalCount() == before
}
