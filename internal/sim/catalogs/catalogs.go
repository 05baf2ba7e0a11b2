package catalogs

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"alchemy.ai/internal/sim/tasks"
)

const (
	defaultLimit    = 1
	defaultDuration = 1000 * time.Millisecond
)

//go:embed catalog.schema.json
var schemaJSON []byte

const schemaURL = "https://alchemy.ai/schemas/catalog.schema.json"

// Catalogs holds every variant found in a catalog directory.
type Catalogs struct {
	ByVariant map[string]*Catalog
	Digest    string
}

func (c *Catalogs) Variants() []string {
	out := make([]string, 0, len(c.ByVariant))
	for v := range c.ByVariant {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (c *Catalogs) Get(variant string) (*Catalog, error) {
	cat, ok := c.ByVariant[variant]
	if !ok {
		return nil, fmt.Errorf("catalog variant %q not found (have %s)", variant, strings.Join(c.Variants(), ", "))
	}
	return cat, nil
}

// Catalog is one task table, in authoring order.
type Catalog struct {
	Variant string
	Title   string
	Seed    map[string]int
	Defs    []*tasks.Def
	ByID    map[string]*tasks.Def
	Digest  string

	// Raw is the file as authored.
	Raw []byte
}

type catalogFile struct {
	Variant string         `json:"variant"`
	Title   string         `json:"title,omitempty"`
	Seed    map[string]int `json:"seed,omitempty"`
	Tasks   []taskJSON     `json:"tasks"`
}

type taskJSON struct {
	ID           string            `json:"id"`
	Name         string            `json:"name,omitempty"`
	Limit        int               `json:"limit,omitempty"`
	DurationMs   int64             `json:"duration_ms,omitempty"`
	Requirements []requirementJSON `json:"requirements,omitempty"`
	Outputs      []outputJSON      `json:"outputs,omitempty"`
	OnComplete   *tasks.Effect     `json:"on_complete,omitempty"`
	HideSelf     bool              `json:"hide_self,omitempty"`
}

type requirementJSON struct {
	ID     string `json:"id"`
	Count  int    `json:"count"`
	Keep   bool   `json:"keep,omitempty"`
	Hidden bool   `json:"hidden,omitempty"`
}

type outputJSON struct {
	ID     string `json:"id"`
	Count  int    `json:"count"`
	Hidden bool   `json:"hidden,omitempty"`
}

// Load reads every *.json variant in dir.
func Load(dir string) (*Catalogs, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("catalogs: no *.json in %s", dir)
	}

	out := &Catalogs{ByVariant: map[string]*Catalog{}}
	var concat bytes.Buffer
	for _, p := range files {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		concat.Write(raw)
		concat.WriteByte('\n')

		cat, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		if _, dup := out.ByVariant[cat.Variant]; dup {
			return nil, fmt.Errorf("%s: duplicate variant %q", filepath.Base(p), cat.Variant)
		}
		out.ByVariant[cat.Variant] = cat
	}
	out.Digest = sha256Hex(concat.Bytes())
	return out, nil
}

// LoadVariant reads dir/<variant>.json.
func LoadVariant(dir, variant string) (*Catalog, error) {
	name := variant + ".json"
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	cat, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if cat.Variant != variant {
		return nil, fmt.Errorf("%s: declares variant %q", name, cat.Variant)
	}
	return cat, nil
}

// Parse validates raw against the catalog schema and builds task defs.
func Parse(raw []byte) (*Catalog, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}

	var f catalogFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	cat := &Catalog{
		Variant: f.Variant,
		Title:   f.Title,
		Seed:    f.Seed,
		Defs:    make([]*tasks.Def, 0, len(f.Tasks)),
		ByID:    make(map[string]*tasks.Def, len(f.Tasks)),
		Digest:  sha256Hex(raw),
		Raw:     raw,
	}
	for i, tj := range f.Tasks {
		if tj.ID == "" {
			return nil, fmt.Errorf("task %d: empty id", i)
		}
		if _, dup := cat.ByID[tj.ID]; dup {
			return nil, fmt.Errorf("task %d: duplicate id %q", i, tj.ID)
		}
		d := tj.def()
		cat.Defs = append(cat.Defs, d)
		cat.ByID[d.ID] = d
	}
	return cat, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("catalog schema load: %w", err)
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("catalog schema compile: %w", err)
	}
	return s, nil
}

func (tj taskJSON) def() *tasks.Def {
	d := &tasks.Def{
		ID:       tj.ID,
		Name:     tj.Name,
		Limit:    tj.Limit,
		Duration: time.Duration(tj.DurationMs) * time.Millisecond,
		HideSelf: tj.HideSelf,
	}
	// Zero means "not set" for both, as in the authoring format.
	if d.Limit == 0 {
		d.Limit = defaultLimit
	}
	if d.Duration == 0 {
		d.Duration = defaultDuration
	}
	if d.Name == "" {
		d.Name = tj.ID
	}
	if tj.OnComplete != nil {
		d.OnComplete = *tj.OnComplete
	}
	for _, r := range tj.Requirements {
		d.Requirements = append(d.Requirements, tasks.RequirementFromCount(r.ID, r.Count, r.Keep, r.Hidden))
	}
	for _, o := range tj.Outputs {
		d.Outputs = append(d.Outputs, tasks.OutputFromCount(o.ID, o.Count, o.Hidden))
	}
	return d
}

// Lint reports requirements on resources that no task produces and the
// seed does not provide. Such tasks can never be offered.
func (c *Catalog) Lint() []string {
	produced := map[string]bool{}
	for id, n := range c.Seed {
		if n != 0 {
			produced[id] = true
		}
	}
	for _, d := range c.Defs {
		for _, o := range d.Produced() {
			if o.Delta() > 0 {
				produced[o.Resource] = true
			}
		}
	}

	var out []string
	for _, d := range c.Defs {
		for _, r := range d.Requirements {
			if r.Kind == tasks.ReqForbids || produced[r.Resource] {
				continue
			}
			msg := fmt.Sprintf("task %q requires %q which nothing produces", d.ID, r.Resource)
			if s, ok := c.Closest(r.Resource); ok && s != r.Resource {
				msg += fmt.Sprintf(" (did you mean %q?)", s)
			}
			out = append(out, msg)
		}
	}
	sort.Strings(out)
	return out
}

// Closest returns the task id nearest to id by edit distance, if any is
// close enough to be a plausible typo.
func (c *Catalog) Closest(id string) (string, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return "", false
	}
	best, bestDist := "", -1
	for _, d := range c.Defs {
		dist := levenshtein.ComputeDistance(id, strings.ToLower(d.ID))
		if dist > distanceLimit(len(d.ID)) {
			continue
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = d.ID, dist
		}
	}
	return best, bestDist >= 0
}

func distanceLimit(length int) int {
	switch {
	case length <= 4:
		return 1
	case length <= 8:
		return 2
	default:
		return 3
	}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
