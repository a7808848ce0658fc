package ingest

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/patrickhere/proxy-machine-sub001/internal/adapter"
	"github.com/patrickhere/proxy-machine-sub001/internal/domain"
	"github.com/patrickhere/proxy-machine-sub001/internal/logger"
	"github.com/patrickhere/proxy-machine-sub001/internal/store"
	"github.com/patrickhere/proxy-machine-sub001/internal/store/schema"
)

// imageVariantPriority is the resolution fallback order for choosing the
// best-effort image reference from a variant map
var imageVariantPriority = []string{"png", "border_crop", "large", "normal", "small"}

// RawPart is one entry of a catalog record's related-parts array
type RawPart struct {
	ID        string `json:"id"`
	Component string `json:"component"`
	Name      string `json:"name"`
	TypeLine  string `json:"type_line"`
}

// RawFace is one face of a multi-faced catalog record
type RawFace struct {
	Name       string            `json:"name"`
	TypeLine   string            `json:"type_line"`
	OracleText string            `json:"oracle_text"`
	ImageURIs  map[string]string `json:"image_uris"`
}

// RawPrint is a catalog record as it appears in the bulk dump
type RawPrint struct {
	ID              string            `json:"id"`
	OracleID        string            `json:"oracle_id"`
	Name            string            `json:"name"`
	Lang            string            `json:"lang"`
	ReleasedAt      string            `json:"released_at"`
	Layout          string            `json:"layout"`
	TypeLine        string            `json:"type_line"`
	OracleText      string            `json:"oracle_text"`
	SetCode         string            `json:"set"`
	CollectorNumber string            `json:"collector_number"`
	Rarity          string            `json:"rarity"`
	Colors          []string          `json:"colors"`
	ColorIdentity   []string          `json:"color_identity"`
	Keywords        []string          `json:"keywords"`
	Frame           string            `json:"frame"`
	FrameEffects    []string          `json:"frame_effects"`
	BorderColor     string            `json:"border_color"`
	PromoTypes      []string          `json:"promo_types"`
	Power           *string           `json:"power"`
	Toughness       *string           `json:"toughness"`
	FullArt         bool              `json:"full_art"`
	Textless        bool              `json:"textless"`
	ImageURIs       map[string]string `json:"image_uris"`
	CardFaces       []RawFace         `json:"card_faces"`
	AllParts        []RawPart         `json:"all_parts"`
}

// Report summarizes one ingest run
type Report struct {
	Ingested int
	Skipped  int
	Edges    int
	Elapsed  time.Duration
}

// Ingester streams a bulk catalog dump into the card index
type Ingester struct {
	store     store.Store
	clock     adapter.Clock
	batchSize int
}

// NewIngester creates a new catalog ingester. batchSize bounds the number of
// rows written per transaction.
func NewIngester(st store.Store, clock adapter.Clock, batchSize int) *Ingester {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Ingester{
		store:     st,
		clock:     clock,
		batchSize: batchSize,
	}
}

// Run streams the dump into the index in bounded batches, then refreshes the
// full-text layer and runs the statistics pass. The input may be a JSON array
// or newline-delimited objects, optionally gzip-compressed; both are detected
// by sniffing and never require the whole file in memory.
func (i *Ingester) Run(ctx context.Context, r io.Reader) (*Report, error) {
	start := i.clock.Now()

	if err := i.store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare index: %w", err)
	}

	dec, err := newRecordDecoder(r)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	batch := make([]*schema.Print, 0, i.batchSize)
	edges := make([]*schema.CardRelationship, 0, i.batchSize)
	sourceIDs := make([]string, 0, i.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := i.store.UpsertPrints(ctx, batch); err != nil {
			return err
		}
		if err := i.store.ReplaceRelationships(ctx, sourceIDs, edges); err != nil {
			return err
		}
		report.Ingested += len(batch)
		report.Edges += len(edges)
		logger.Debug("ingested batch",
			zap.Int("prints", len(batch)),
			zap.Int("edges", len(edges)),
			zap.Int("total", report.Ingested),
		)
		batch = batch[:0]
		edges = edges[:0]
		sourceIDs = sourceIDs[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var raw RawPrint
		if err := dec.Next(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode catalog record: %w", err)
		}

		print, printEdges, err := Normalize(&raw)
		if err != nil {
			report.Skipped++
			logger.Warn("skipping malformed catalog record",
				zap.String("id", raw.ID),
				zap.String("name", raw.Name),
				zap.Error(err),
			)
			continue
		}

		batch = append(batch, print)
		sourceIDs = append(sourceIDs, print.ID)
		edges = append(edges, printEdges...)

		if len(batch) >= i.batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}

	logger.Info("refreshing full-text index")
	if err := i.store.RebuildSearchIndex(ctx); err != nil {
		return nil, err
	}
	if err := i.store.Optimize(ctx); err != nil {
		return nil, err
	}

	report.Elapsed = i.clock.Since(start)
	logger.Info("ingest complete",
		zap.Int("ingested", report.Ingested),
		zap.Int("skipped", report.Skipped),
		zap.Int("edges", report.Edges),
		zap.Duration("elapsed", report.Elapsed),
	)

	return report, nil
}

// Normalize converts a raw catalog record into an index row plus its derived
// relationship edges. Edge order follows payload order so rebuilds are
// deterministic.
func Normalize(raw *RawPrint) (*schema.Print, []*schema.CardRelationship, error) {
	if _, err := uuid.Parse(raw.ID); err != nil {
		return nil, nil, fmt.Errorf("invalid print id %q: %w", raw.ID, err)
	}
	if raw.Name == "" {
		return nil, nil, fmt.Errorf("print %s has no name", raw.ID)
	}

	releasedAt, err := time.Parse("2006-01-02", raw.ReleasedAt)
	if err != nil {
		// Missing release dates sort last rather than fail the record
		releasedAt = time.Time{}
	}

	imageURL, variants := chooseImage(raw)

	var variantsJSON datatypes.JSON
	if len(variants) > 0 {
		if encoded, err := json.Marshal(variants); err == nil {
			variantsJSON = encoded
		}
	}

	print := &schema.Print{
		ID:              raw.ID,
		Name:            raw.Name,
		NameSlug:        domain.Slugify(raw.Name),
		OracleID:        raw.OracleID,
		SetCode:         raw.SetCode,
		CollectorNumber: raw.CollectorNumber,
		TypeLine:        raw.TypeLine,
		OracleText:      oracleText(raw),
		Layout:          raw.Layout,
		Lang:            raw.Lang,
		ReleasedAt:      releasedAt,
		Rarity:          raw.Rarity,
		Colors:          raw.Colors,
		ColorIdentity:   raw.ColorIdentity,
		Keywords:        raw.Keywords,
		Frame:           raw.Frame,
		FrameEffects:    raw.FrameEffects,
		BorderColor:     raw.BorderColor,
		PromoTypes:      raw.PromoTypes,
		Power:           raw.Power,
		Toughness:       raw.Toughness,
		ImageURL:        imageURL,
		ImageVariants:   variantsJSON,
		IsToken:         isToken(raw),
		IsBasicLand:     isBasicLand(raw.TypeLine),
		FullArt:         raw.FullArt,
		Textless:        raw.Textless,
	}

	return print, deriveEdges(raw), nil
}

// chooseImage extracts the best-effort image reference: priority-ordered
// resolution variants, falling back to the first face for multi-faced cards
func chooseImage(raw *RawPrint) (string, map[string]string) {
	variants := raw.ImageURIs
	if len(variants) == 0 && len(raw.CardFaces) > 0 {
		variants = raw.CardFaces[0].ImageURIs
	}
	for _, key := range imageVariantPriority {
		if url, ok := variants[key]; ok && url != "" {
			return url, variants
		}
	}
	return "", variants
}

// oracleText joins face texts for multi-faced cards so full-text search
// covers both halves
func oracleText(raw *RawPrint) string {
	if raw.OracleText != "" || len(raw.CardFaces) == 0 {
		return raw.OracleText
	}
	text := ""
	for _, face := range raw.CardFaces {
		if face.OracleText == "" {
			continue
		}
		if text != "" {
			text += "\n//\n"
		}
		text += face.OracleText
	}
	return text
}

func isToken(raw *RawPrint) bool {
	switch raw.Layout {
	case "token", "double_faced_token", "emblem":
		return true
	}
	return containsWord(raw.TypeLine, "Token")
}

func isBasicLand(typeLine string) bool {
	return hasPrefixWord(typeLine, "Basic") && containsWord(typeLine, "Land")
}

// deriveEdges maps the payload's related-parts array onto relationship edges.
// Self-references are dropped; unknown component tags are skipped with a
// warning rather than failing the record.
func deriveEdges(raw *RawPrint) []*schema.CardRelationship {
	if len(raw.AllParts) == 0 {
		return nil
	}

	edges := make([]*schema.CardRelationship, 0, len(raw.AllParts))
	for _, part := range raw.AllParts {
		if part.ID == raw.ID || part.ID == "" {
			continue
		}

		var kind domain.RelationKind
		switch part.Component {
		case "combo_piece":
			kind = domain.RelationComboPiece
		case "meld_part":
			kind = domain.RelationMeldPart
		case "meld_result":
			kind = domain.RelationMeldResult
		case "token":
			kind = domain.RelationToken
		default:
			logger.Warn("unknown relationship component",
				zap.String("print_id", raw.ID),
				zap.String("component", part.Component),
			)
			continue
		}

		edges = append(edges, &schema.CardRelationship{
			SourcePrintID:   raw.ID,
			RelatedPrintID:  part.ID,
			RelatedCardName: part.Name,
			Kind:            string(kind),
		})
	}

	return edges
}

func containsWord(s, word string) bool {
	for rest := s; ; {
		idx := strings.Index(rest, word)
		if idx < 0 {
			return false
		}
		before := idx == 0 || !isWordChar(rest[idx-1])
		afterIdx := idx + len(word)
		after := afterIdx >= len(rest) || !isWordChar(rest[afterIdx])
		if before && after {
			return true
		}
		rest = rest[idx+len(word):]
	}
}

func hasPrefixWord(s, word string) bool {
	if !strings.HasPrefix(s, word) {
		return false
	}
	return len(s) == len(word) || !isWordChar(s[len(word)])
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// recordDecoder streams catalog records from either framing
type recordDecoder struct {
	dec   *json.Decoder
	array bool
	done  bool
}

// newRecordDecoder sniffs compression and framing, then returns a streaming
// decoder. Detection reads only the buffered head of the input.
func newRecordDecoder(r io.Reader) (*recordDecoder, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read catalog dump: %w", err)
	}
	if len(head) == 0 {
		return nil, fmt.Errorf("%w: empty input", domain.ErrUnsupportedFormat)
	}

	reader := br
	if mimetype.Detect(head).Is("application/gzip") {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		reader = bufio.NewReaderSize(gz, 64*1024)
	}

	// Framing: a leading '[' means one big JSON array, anything else is
	// treated as newline-delimited objects
	first, err := peekFirstNonSpace(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnsupportedFormat, err)
	}

	dec := json.NewDecoder(reader)
	switch first {
	case '[':
		// Consume the opening bracket so Decode yields elements
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrUnsupportedFormat, err)
		}
		return &recordDecoder{dec: dec, array: true}, nil
	case '{':
		return &recordDecoder{dec: dec, array: false}, nil
	}

	return nil, fmt.Errorf("%w: input is neither a JSON array nor object stream", domain.ErrUnsupportedFormat)
}

// peekFirstNonSpace discards leading whitespace and reports the first
// significant byte without consuming it
func peekFirstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			if _, err := br.ReadByte(); err != nil {
				return 0, err
			}
		default:
			return b[0], nil
		}
	}
}

// Next decodes the next record, returning io.EOF when the stream ends
func (d *recordDecoder) Next(out *RawPrint) error {
	if d.done {
		return io.EOF
	}

	if d.array {
		if !d.dec.More() {
			d.done = true
			// Consume the closing bracket
			if _, err := d.dec.Token(); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			return io.EOF
		}
		return d.dec.Decode(out)
	}

	return d.dec.Decode(out)
}
