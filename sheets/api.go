package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"ytsheets/internal/logger"
	"ytsheets/internal/retry"
	"ytsheets/youtube"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
	htransport "google.golang.org/api/transport/http"
)

// APIConfig configures an APIDestination.
type APIConfig struct {
	SpreadsheetID string
	// CredentialsFile is a service account or OAuth client JSON file.
	CredentialsFile string
	// HTTPClient carries the outbound transport. With CredentialsFile set,
	// authentication is layered on top of its Transport.
	HTTPClient *http.Client
	// ShortFormThreshold drives the duration highlight. Default 60s.
	ShortFormThreshold time.Duration
	Retry              retry.Config
	Logger             *zerolog.Logger
}

// APIDestination implements Destination on the Sheets API v4.
type APIDestination struct {
	service       *sheets.Service
	spreadsheetID string
	shortForm     time.Duration
	retry         retry.Config
	log           *zerolog.Logger

	mu       sync.Mutex
	sheetIDs map[string]int64
}

// NewAPIDestination creates an APIDestination for one spreadsheet.
func NewAPIDestination(ctx context.Context, cfg APIConfig, opts ...option.ClientOption) (*APIDestination, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("%w: empty spreadsheet id", ErrInvalidSpreadsheetURL)
	}

	switch {
	case cfg.HTTPClient != nil && cfg.CredentialsFile != "":
		base := cfg.HTTPClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		authed, err := htransport.NewTransport(ctx, base,
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(sheets.SpreadsheetsScope))
		if err != nil {
			return nil, fmt.Errorf("sheets credentials: %w", err)
		}
		client := *cfg.HTTPClient
		client.Transport = authed
		opts = append(opts, option.WithHTTPClient(&client))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile), option.WithScopes(sheets.SpreadsheetsScope))
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	d := &APIDestination{
		service:       service,
		spreadsheetID: cfg.SpreadsheetID,
		shortForm:     cfg.ShortFormThreshold,
		retry:         cfg.Retry,
		log:           cfg.Logger,
		sheetIDs:      make(map[string]int64),
	}
	if d.shortForm <= 0 {
		d.shortForm = 60 * time.Second
	}
	if d.log == nil {
		d.log = logger.Named("sheets")
	}
	return d, nil
}

func (d *APIDestination) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, d.retry, sheetsErrorClassifier, fn)
}

type sheetInfo struct {
	id       int64
	hasRules bool
}

// lookup finds tab in the spreadsheet. ok is false when it does not exist.
func (d *APIDestination) lookup(ctx context.Context, tab string) (info sheetInfo, ok bool, err error) {
	err = d.do(ctx, func(ctx context.Context) error {
		ss, err := d.service.Spreadsheets.Get(d.spreadsheetID).
			Fields("sheets(properties(sheetId,title),conditionalFormats)").
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		for _, sh := range ss.Sheets {
			if sh.Properties != nil && sh.Properties.Title == tab {
				info = sheetInfo{id: sh.Properties.SheetId, hasRules: len(sh.ConditionalFormats) > 0}
				ok = true
				return nil
			}
		}
		return nil
	})
	if ok {
		d.mu.Lock()
		d.sheetIDs[tab] = info.id
		d.mu.Unlock()
	}
	return info, ok, err
}

// EnsureTab adds tab and writes the header row when it does not exist.
func (d *APIDestination) EnsureTab(ctx context.Context, tab string) (bool, error) {
	if err := ValidateTabName(tab); err != nil {
		return false, err
	}

	_, exists, err := d.lookup(ctx, tab)
	if err != nil {
		return false, &DestinationError{Op: "get spreadsheet", Tab: tab, Err: err}
	}
	if exists {
		return false, nil
	}

	var sheetID int64
	err = d.do(ctx, func(ctx context.Context) error {
		resp, err := d.service.Spreadsheets.BatchUpdate(d.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{
				AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: tab}},
			}},
		}).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
			sheetID = resp.Replies[0].AddSheet.Properties.SheetId
		}
		return nil
	})
	if err != nil {
		return false, &DestinationError{Op: "add sheet", Tab: tab, Err: err}
	}
	d.mu.Lock()
	d.sheetIDs[tab] = sheetID
	d.mu.Unlock()

	err = d.do(ctx, func(ctx context.Context) error {
		_, err := d.service.Spreadsheets.Values.Update(d.spreadsheetID, a1Range(tab, "A1"),
			&sheets.ValueRange{Values: [][]any{headerRow()}}).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return true, &DestinationError{Op: "write header", Tab: tab, Err: err}
	}

	d.log.Info().Str("tab", tab).Msg("created tab")
	return true, nil
}

// ReadExistingIDs reads column A below the header.
func (d *APIDestination) ReadExistingIDs(ctx context.Context, tab string) ([]string, error) {
	var ids []string
	err := d.do(ctx, func(ctx context.Context) error {
		resp, err := d.service.Spreadsheets.Values.Get(d.spreadsheetID, a1Range(tab, "A2:A")).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		ids = make([]string, 0, len(resp.Values))
		for _, row := range resp.Values {
			if len(row) == 0 {
				continue
			}
			if id := fmt.Sprint(row[0]); id != "" {
				ids = append(ids, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, &DestinationError{Op: "read ids", Tab: tab, Err: err}
	}
	return ids, nil
}

// WriteBatch appends videos below the existing rows in one request.
func (d *APIDestination) WriteBatch(ctx context.Context, tab string, videos []youtube.Video) error {
	if len(videos) == 0 {
		return nil
	}
	rows := make([][]any, len(videos))
	for i, v := range videos {
		rows[i] = Row(v)
	}

	err := d.do(ctx, func(ctx context.Context) error {
		_, err := d.service.Spreadsheets.Values.Append(d.spreadsheetID, a1Range(tab, "A1"),
			&sheets.ValueRange{Values: rows}).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return &DestinationError{Op: "append", Tab: tab, Err: fmt.Errorf("%w: %w", ErrWriteFailed, err)}
	}
	d.log.Debug().Str("tab", tab).Int("rows", len(rows)).Msg("batch appended")
	return nil
}

// ApplyFormatting freezes and bolds the header and, on first use, adds a
// views gradient and a short-form duration highlight.
func (d *APIDestination) ApplyFormatting(ctx context.Context, tab string) error {
	info, ok, err := d.lookup(ctx, tab)
	if err != nil {
		return &DestinationError{Op: "get spreadsheet", Tab: tab, Err: err}
	}
	if !ok {
		return &DestinationError{Op: "format", Tab: tab, Err: errors.New("tab not found")}
	}

	reqs := []*sheets.Request{
		{UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
			Properties: &sheets.SheetProperties{
				SheetId:         info.id,
				GridProperties:  &sheets.GridProperties{FrozenRowCount: 1},
				ForceSendFields: []string{"SheetId"},
			},
			Fields: "gridProperties.frozenRowCount",
		}},
		{RepeatCell: &sheets.RepeatCellRequest{
			Range: gridRange(info.id, 0, 1, 0, int64(len(Header))),
			Cell: &sheets.CellData{UserEnteredFormat: &sheets.CellFormat{
				TextFormat: &sheets.TextFormat{Bold: true},
			}},
			Fields: "userEnteredFormat.textFormat.bold",
		}},
	}
	if !info.hasRules {
		reqs = append(reqs, d.conditionalRules(info.id)...)
	}

	err = d.do(ctx, func(ctx context.Context) error {
		_, err := d.service.Spreadsheets.BatchUpdate(d.spreadsheetID,
			&sheets.BatchUpdateSpreadsheetRequest{Requests: reqs}).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return &DestinationError{Op: "format", Tab: tab, Err: err}
	}
	return nil
}

func (d *APIDestination) conditionalRules(sheetID int64) []*sheets.Request {
	views := gridRange(sheetID, 1, 0, colViews, colViews+1)
	duration := gridRange(sheetID, 1, 0, colDuration, colDuration+1)
	maxShort := strconv.Itoa(int(d.shortForm / time.Second))

	return []*sheets.Request{
		{AddConditionalFormatRule: &sheets.AddConditionalFormatRuleRequest{
			Rule: &sheets.ConditionalFormatRule{
				Ranges: []*sheets.GridRange{views},
				GradientRule: &sheets.GradientRule{
					Minpoint: &sheets.InterpolationPoint{Type: "MIN", Color: &sheets.Color{Red: 1, Green: 1, Blue: 1}},
					Maxpoint: &sheets.InterpolationPoint{Type: "MAX", Color: &sheets.Color{Red: 0.34, Green: 0.73, Blue: 0.54}},
				},
			},
		}},
		{AddConditionalFormatRule: &sheets.AddConditionalFormatRuleRequest{
			Rule: &sheets.ConditionalFormatRule{
				Ranges: []*sheets.GridRange{duration},
				BooleanRule: &sheets.BooleanRule{
					Condition: &sheets.BooleanCondition{
						Type: "NUMBER_BETWEEN",
						Values: []*sheets.ConditionValue{
							{UserEnteredValue: "1"},
							{UserEnteredValue: maxShort},
						},
					},
					Format: &sheets.CellFormat{BackgroundColor: &sheets.Color{Red: 1, Green: 0.95, Blue: 0.8}},
				},
			},
		}},
	}
}

// gridRange builds a range on sheetID. An endRow of 0 leaves it unbounded.
func gridRange(sheetID, startRow, endRow, startCol, endCol int64) *sheets.GridRange {
	return &sheets.GridRange{
		SheetId:          sheetID,
		StartRowIndex:    startRow,
		EndRowIndex:      endRow,
		StartColumnIndex: startCol,
		EndColumnIndex:   endCol,
		ForceSendFields:  []string{"SheetId"},
	}
}

// sheetsErrorClassifier retries rate limiting and server errors only.
func sheetsErrorClassifier(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	return true
}
