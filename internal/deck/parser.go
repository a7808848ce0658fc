// Package deck turns deck-list text into card requests for the resolver.
// Parsers are registered in a static table built at startup; there is no
// runtime discovery.
package deck

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/patrickhere/proxy-machine-sub001/internal/domain"
)

// Parser turns deck-list text into a sequence of card requests
type Parser interface {
	// Name is the registry key for this parser
	Name() string

	// Parse reads a deck list and returns its entries. Unparseable lines
	// are returned as an error naming the line, not silently dropped.
	Parse(r io.Reader) ([]domain.Request, error)
}

// registry is the static parser table, fixed at startup
var registry = buildRegistry()

func buildRegistry() map[string]Parser {
	parsers := []Parser{
		&LineParser{name: "plain"},
		&LineParser{name: "arena", requireQuantity: true},
	}

	table := make(map[string]Parser, len(parsers))
	for _, p := range parsers {
		table[p.Name()] = p
	}
	return table
}

// Lookup returns the named parser from the static table
func Lookup(name string) (Parser, bool) {
	p, ok := registry[name]
	return p, ok
}

// Names lists registered parser names in sorted order
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lineFormat matches "4 Lightning Bolt", "4x Lightning Bolt (M10)",
// "Lightning Bolt" and "1 Opt (STX) 52" style lines
var lineFormat = regexp.MustCompile(`^(?:(\d+)[xX]?\s+)?(.+?)(?:\s+\(([A-Za-z0-9]{2,5})\)(?:\s+[\dA-Za-z★]+)?)?$`)

// sectionHeaders are ignored structural lines in common deck formats
var sectionHeaders = map[string]struct{}{
	"deck":      {},
	"sideboard": {},
	"commander": {},
	"companion": {},
	"maybeboard": {},
}

// LineParser parses one-entry-per-line deck lists
type LineParser struct {
	name string
	// requireQuantity rejects lines without a leading count
	requireQuantity bool
}

// Name is the registry key for this parser
func (p *LineParser) Name() string {
	return p.name
}

// Parse reads a deck list and returns its entries
func (p *LineParser) Parse(r io.Reader) ([]domain.Request, error) {
	var requests []domain.Request

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		if _, ok := sectionHeaders[strings.ToLower(line)]; ok {
			continue
		}

		req, err := p.parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		requests = append(requests, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read deck list: %w", err)
	}

	return requests, nil
}

func (p *LineParser) parseLine(line string) (domain.Request, error) {
	m := lineFormat.FindStringSubmatch(line)
	if m == nil || strings.TrimSpace(m[2]) == "" {
		return domain.Request{}, fmt.Errorf("unparseable entry %q", line)
	}

	quantity := 1
	if m[1] != "" {
		q, err := strconv.Atoi(m[1])
		if err != nil || q < 1 {
			return domain.Request{}, fmt.Errorf("invalid quantity in %q", line)
		}
		quantity = q
	} else if p.requireQuantity {
		return domain.Request{}, fmt.Errorf("missing quantity in %q", line)
	}

	return domain.Request{
		Name:     strings.TrimSpace(m[2]),
		SetCode:  strings.ToLower(m[3]),
		Quantity: quantity,
	}, nil
}
