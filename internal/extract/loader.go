package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/preschool-etl/internal/model"
)

// IDStrategy selects how ids are synthesized for rows without one.
type IDStrategy string

const (
	// IDPosition uses the zero-based position among non-blank data rows.
	IDPosition IDStrategy = "position"
	// IDHash derives a stable id from license number, address, and city.
	IDHash IDStrategy = "hash"
)

// IDPrefix prefixes every synthesized id.
const IDPrefix = "CSPP_"

// Derived columns added to every snapshot row.
const (
	colID             = "id"
	colFullAddress    = "full_address"
	colDataSource     = "data_source"
	colExtractionDate = "extraction_date"
)

// headerAliases maps header variants seen in CSPP exports to canonical names.
var headerAliases = map[string]string{
	"zip":            "zip_code",
	"zipcode":        "zip_code",
	"street_address": "address",
	"license":        "license_number",
	"license_no":     "license_number",
	"telephone":      "phone",
	"phone_number":   "phone",
	"program":        "program_type",
	"facility_name":  "name",
	"program_name":   "name",
}

var lower = cases.Lower(language.Und)

// NormalizeHeader trims, NFKC-normalizes, and lower-cases a header cell, then
// replaces each space with an underscore.
func NormalizeHeader(h string) string {
	h = strings.TrimSpace(h)
	h = norm.NFKC.String(h)
	h = lower.String(h)
	return strings.ReplaceAll(h, " ", "_")
}

// canonicalHeader applies NormalizeHeader followed by the alias table.
func canonicalHeader(h string) string {
	n := NormalizeHeader(h)
	if alias, ok := headerAliases[n]; ok {
		return alias
	}
	return n
}

// LoadOptions stamps and identifies transformed rows.
type LoadOptions struct {
	Tag            string // data_source value
	State          string // state suffix of full_address
	ExtractionDate string
	IDStrategy     IDStrategy
}

// LoadResult is the outcome of Transform.
type LoadResult struct {
	Preschools []model.Preschool

	// Columns and Records form the processed snapshot: every normalized
	// source column plus the derived columns.
	Columns []string
	Records [][]string

	SourceRows   int // data rows in the sheet, excluding the header
	Blank        int // fully blank rows skipped
	Duplicates   int // exact duplicates dropped
	IDCollisions int // rows dropped because their id was already used
}

// Transform turns raw sheet rows (header first) into preschool records.
// Exact-duplicate rows are dropped keeping the first occurrence, and each row
// is identified by its source id or a synthesized one.
func Transform(rows [][]string, opts LoadOptions) (*LoadResult, error) {
	if len(rows) == 0 {
		return nil, eris.New("extract: sheet has no header row")
	}
	if opts.IDStrategy == "" {
		opts.IDStrategy = IDPosition
	}
	if opts.IDStrategy != IDPosition && opts.IDStrategy != IDHash {
		return nil, eris.Errorf("extract: unknown id strategy %q", opts.IDStrategy)
	}

	header := normalizeHeaderRow(rows[0])
	if len(header) == 0 {
		return nil, eris.New("extract: header row is empty")
	}

	columns := append([]string(nil), header...)
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, ok := index[c]; !ok {
			index[c] = i
		}
	}
	ensure := func(name string) int {
		if i, ok := index[name]; ok {
			return i
		}
		columns = append(columns, name)
		index[name] = len(columns) - 1
		return len(columns) - 1
	}
	idCol := ensure(colID)
	fullCol := ensure(colFullAddress)
	sourceCol := ensure(colDataSource)
	dateCol := ensure(colExtractionDate)

	get := func(cells []string, name string) string {
		if i, ok := index[name]; ok && i < len(cells) {
			return cells[i]
		}
		return ""
	}

	res := &LoadResult{Columns: columns, SourceRows: len(rows) - 1}
	seenRows := make(map[string]struct{}, len(rows))
	seenIDs := make(map[string]struct{}, len(rows))
	log := zap.L().With(zap.String("component", "extract.loader"))

	// pos indexes non-blank rows; duplicates still consume a position.
	pos := -1
	for _, raw := range rows[1:] {
		cells := make([]string, len(header))
		blank := true
		for i := range header {
			if i < len(raw) {
				cells[i] = strings.TrimSpace(raw[i])
			}
			if cells[i] != "" {
				blank = false
			}
		}
		if blank {
			res.Blank++
			continue
		}
		pos++

		key := strings.Join(cells, "\x1f")
		if _, dup := seenRows[key]; dup {
			res.Duplicates++
			continue
		}
		seenRows[key] = struct{}{}

		p := model.Preschool{
			ID:             get(cells, colID),
			Name:           get(cells, "name"),
			Address:        get(cells, "address"),
			City:           get(cells, "city"),
			ZipCode:        get(cells, "zip_code"),
			County:         get(cells, "county"),
			Phone:          get(cells, "phone"),
			LicenseNumber:  get(cells, "license_number"),
			Capacity:       parseCapacity(get(cells, "capacity")),
			ProgramType:    get(cells, "program_type"),
			DataSource:     opts.Tag,
			ExtractionDate: opts.ExtractionDate,
		}
		if p.Address != "" && p.City != "" {
			p.FullAddress = p.Address + ", " + p.City + ", " + opts.State
		}
		if p.ID == "" {
			p.ID = synthesizeID(opts.IDStrategy, pos, p)
		}
		if _, used := seenIDs[p.ID]; used {
			log.Warn("dropping row with duplicate id", zap.String("id", p.ID), zap.Int("position", pos))
			res.IDCollisions++
			continue
		}
		seenIDs[p.ID] = struct{}{}

		record := make([]string, len(columns))
		copy(record, cells)
		record[idCol] = p.ID
		record[fullCol] = p.FullAddress
		record[sourceCol] = p.DataSource
		record[dateCol] = p.ExtractionDate

		res.Preschools = append(res.Preschools, p)
		res.Records = append(res.Records, record)
	}

	return res, nil
}

// normalizeHeaderRow canonicalizes header names, drops trailing empty
// headers, and suffixes repeats (".1", ".2") so every column stays addressable.
func normalizeHeaderRow(raw []string) []string {
	end := len(raw)
	for end > 0 && strings.TrimSpace(raw[end-1]) == "" {
		end--
	}
	header := make([]string, end)
	counts := make(map[string]int, end)
	for i := 0; i < end; i++ {
		h := canonicalHeader(raw[i])
		if h == "" {
			h = "unnamed_" + strconv.Itoa(i)
		}
		if n := counts[h]; n > 0 {
			counts[h]++
			h = h + "." + strconv.Itoa(n)
		} else {
			counts[h] = 1
		}
		header[i] = h
	}
	return header
}

func synthesizeID(strategy IDStrategy, pos int, p model.Preschool) string {
	if strategy == IDHash {
		sum := sha256.Sum256([]byte(p.LicenseNumber + "|" + p.Address + "|" + p.City))
		return IDPrefix + hex.EncodeToString(sum[:])[:12]
	}
	return IDPrefix + strconv.Itoa(pos)
}

// parseCapacity accepts integers and integral floats ("24", "24.0").
func parseCapacity(s string) *int {
	if s == "" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return &n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return nil
	}
	n := int(f)
	return &n
}
