package ingest

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/irfndi/celebrum-correlation/internal/models"
	"github.com/irfndi/celebrum-correlation/internal/utils"
)

// FrameKind tells a decoder which payload shape a connection delivers.
// Combined-stream endpoints wrap every payload in a {stream, data} envelope;
// raw endpoints deliver the payload bare.
type FrameKind int

const (
	FrameEnvelope FrameKind = iota
	FrameBare
)

func (k FrameKind) String() string {
	switch k {
	case FrameEnvelope:
		return "envelope"
	case FrameBare:
		return "bare"
	default:
		return "unknown"
	}
}

// Decoder turns one inbound frame into an observation.
// A Decoder is not safe for concurrent use; each worker owns one.
type Decoder interface {
	Kind() FrameKind
	Decode(raw []byte, receivedAt time.Time) (models.Observation, error)
}

// NewDecoder returns the decoder for kind.
func NewDecoder(kind FrameKind) (Decoder, error) {
	base := tickerDecoder{validate: validator.New(), upper: cases.Upper(language.Und)}
	switch kind {
	case FrameEnvelope:
		return envelopeDecoder{base}, nil
	case FrameBare:
		return bareDecoder{base}, nil
	default:
		return nil, fmt.Errorf("unsupported frame kind %d", kind)
	}
}

// envelope is the combined-stream wrapper.
type envelope struct {
	Stream string          `json:"stream" validate:"required"`
	Data   json.RawMessage `json:"data" validate:"required"`
}

// tickerPayload is the 24h rolling ticker event. Numbers arrive as strings.
// Keys differing only in case ("E"/"e", "C"/"c", "p"/"P") are all declared:
// the decoder falls back to case-insensitive matching for undeclared keys.
type tickerPayload struct {
	Event       string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s" validate:"required"`
	LastPrice   string `json:"c" validate:"required,numeric"`
	CloseTime   int64  `json:"C"`
	Volume      string `json:"v" validate:"omitempty,numeric"`
	ChangePct   string `json:"P" validate:"omitempty,numeric"`
	PriceChange string `json:"p"`
}

type tickerDecoder struct {
	validate *validator.Validate
	upper    cases.Caser
}

func (d tickerDecoder) payload(raw []byte, receivedAt time.Time) (models.Observation, error) {
	var p tickerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.Observation{}, fmt.Errorf("invalid ticker payload: %v: %w", err, utils.ErrMalformedInput)
	}
	if err := d.validate.Struct(&p); err != nil {
		return models.Observation{}, fmt.Errorf("ticker validation failed: %v: %w", err, utils.ErrMalformedInput)
	}
	return d.observation(p.Symbol, p.LastPrice, p.Volume, p.ChangePct, receivedAt)
}

// observation parses the string fields shared by the stream and REST ticker shapes.
func (d tickerDecoder) observation(symbol, price, volume, changePct string, ts time.Time) (models.Observation, error) {
	if symbol == "" {
		return models.Observation{}, utils.NewValidationError("missing symbol")
	}

	p, err := decimal.NewFromString(price)
	if err != nil {
		return models.Observation{}, utils.NewValidationErrorf("invalid price %q for %s", price, symbol)
	}
	if !p.IsPositive() {
		return models.Observation{}, utils.NewValidationErrorf("non-positive price %s for %s", p.String(), symbol)
	}

	v := decimal.Zero
	if volume != "" {
		if v, err = decimal.NewFromString(volume); err != nil || v.IsNegative() {
			return models.Observation{}, utils.NewValidationErrorf("invalid volume %q for %s", volume, symbol)
		}
	}

	c := decimal.Zero
	if changePct != "" {
		if c, err = decimal.NewFromString(changePct); err != nil {
			return models.Observation{}, utils.NewValidationErrorf("invalid change percent %q for %s", changePct, symbol)
		}
	}

	return models.Observation{
		Symbol:      d.upper.String(symbol),
		Timestamp:   ts,
		Price:       p.InexactFloat64(),
		Volume:      v.InexactFloat64(),
		ChangePct24: c.InexactFloat64(),
	}, nil
}

type envelopeDecoder struct{ tickerDecoder }

func (envelopeDecoder) Kind() FrameKind { return FrameEnvelope }

func (d envelopeDecoder) Decode(raw []byte, receivedAt time.Time) (models.Observation, error) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return models.Observation{}, fmt.Errorf("invalid envelope: %v: %w", err, utils.ErrMalformedInput)
	}
	if err := d.validate.Struct(&e); err != nil {
		return models.Observation{}, fmt.Errorf("envelope validation failed: %v: %w", err, utils.ErrMalformedInput)
	}
	return d.payload(e.Data, receivedAt)
}

type bareDecoder struct{ tickerDecoder }

func (bareDecoder) Kind() FrameKind { return FrameBare }

func (d bareDecoder) Decode(raw []byte, receivedAt time.Time) (models.Observation, error) {
	return d.payload(raw, receivedAt)
}

// RESTTicker is a REST 24h ticker row reduced to the fields the pipeline consumes.
type RESTTicker struct {
	Symbol             string
	LastPrice          string
	Volume             string
	PriceChangePercent string
}

// TickerConverter validates REST ticker rows into observations.
type TickerConverter struct {
	tickerDecoder
}

// NewTickerConverter creates a converter for REST ticker rows.
func NewTickerConverter() *TickerConverter {
	return &TickerConverter{tickerDecoder{validate: validator.New(), upper: cases.Upper(language.Und)}}
}

// Convert validates one row.
func (c *TickerConverter) Convert(t RESTTicker, ts time.Time) (models.Observation, error) {
	return c.observation(t.Symbol, t.LastPrice, t.Volume, t.PriceChangePercent, ts)
}
