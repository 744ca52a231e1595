package pricing

import (
	_ "embed"
	"os"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// CatalogEntry keeps the amounts exactly as published, currency formatted.
type CatalogEntry struct {
	Price    string `yaml:"price"`
	Shipping string `yaml:"shipping"`
	Taxes    string `yaml:"taxes"`
}

type amounts struct {
	price    decimal.Decimal
	shipping decimal.Decimal
	taxes    decimal.Decimal
}

// Catalog is keyed by lowercased book id and format variant. It is never
// modified after Parse returns.
type Catalog struct {
	raw    map[string]map[string]CatalogEntry
	parsed map[string]map[string]amounts
}

func (c *Catalog) Entry(bookID, variant string) (CatalogEntry, bool) {
	entry, ok := c.raw[normalize(bookID)][normalize(variant)]
	return entry, ok
}

func (c *Catalog) lookup(bookID, variant string) (amounts, bool) {
	a, ok := c.parsed[normalize(bookID)][normalize(variant)]
	return a, ok
}

// DiscountTable maps an upper-case discount code to a percentage in [0, 100].
type DiscountTable struct {
	pct map[string]decimal.Decimal
}

func (d *DiscountTable) Percentage(code string) decimal.Decimal {
	if pct, ok := d.pct[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return pct
	}
	return decimal.Zero
}

type Tables struct {
	Catalog   *Catalog
	Discounts *DiscountTable
}

type tablesFile struct {
	Books     map[string]map[string]CatalogEntry `yaml:"books"`
	Discounts map[string]string                  `yaml:"discounts"`
}

// Load reads the tables from path, or the embedded defaults when path is empty.
func Load(path string) (*Tables, error) {
	if path == "" {
		return Parse(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading pricing tables %s", path)
	}
	return Parse(data)
}

func MustDefault() *Tables {
	t, err := Parse(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return t
}

func Parse(data []byte) (*Tables, error) {
	var file tablesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "decoding pricing tables")
	}

	catalog := &Catalog{
		raw:    make(map[string]map[string]CatalogEntry, len(file.Books)),
		parsed: make(map[string]map[string]amounts, len(file.Books)),
	}
	for bookID, variants := range file.Books {
		book := normalize(bookID)
		catalog.raw[book] = make(map[string]CatalogEntry, len(variants))
		catalog.parsed[book] = make(map[string]amounts, len(variants))
		for variant, entry := range variants {
			a, err := parseEntry(entry)
			if err != nil {
				return nil, errors.Wrapf(err, "catalog %s/%s", bookID, variant)
			}
			catalog.raw[book][normalize(variant)] = entry
			catalog.parsed[book][normalize(variant)] = a
		}
	}

	discounts := &DiscountTable{pct: make(map[string]decimal.Decimal, len(file.Discounts))}
	for code, value := range file.Discounts {
		pct, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, errors.Wrapf(err, "discount %s", code)
		}
		if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return nil, errors.Errorf("discount %s: percentage %s out of range", code, pct)
		}
		discounts.pct[strings.ToUpper(strings.TrimSpace(code))] = pct
	}

	return &Tables{Catalog: catalog, Discounts: discounts}, nil
}

func parseEntry(entry CatalogEntry) (amounts, error) {
	price, err := ParseAmount(entry.Price)
	if err != nil {
		return amounts{}, err
	}
	shipping, err := ParseAmount(entry.Shipping)
	if err != nil {
		return amounts{}, err
	}
	taxes, err := ParseAmount(entry.Taxes)
	if err != nil {
		return amounts{}, err
	}
	if price.IsNegative() || shipping.IsNegative() || taxes.IsNegative() {
		return amounts{}, errors.New("negative amount")
	}
	return amounts{price: price, shipping: shipping, taxes: taxes}, nil
}

// ParseAmount turns a display string such as "₹1,775", "Rs. 1,775" or
// "$ 12.50" into a decimal rounded to two places. Everything before the first
// digit is the currency prefix; after it only digits, one decimal point,
// commas and spaces are accepted. An empty string is zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}

	first := strings.IndexFunc(s, unicode.IsDigit)
	if first < 0 {
		return decimal.Zero, errors.Errorf("parsing amount %q: no digits", s)
	}

	prefix := strings.TrimSpace(s[:first])
	number := s[first:]
	switch {
	case prefix == ".", prefix == "-.":
		number = prefix + number
	case strings.HasSuffix(prefix, "-"):
		number = "-" + number
	}

	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, number)
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parsing amount %q", s)
	}
	return Round2(d), nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
