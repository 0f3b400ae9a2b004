// Package catalog loads the static voice inventory and answers the
// lookup, validity, and default-voice queries routing depends on.
package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/exaudilabs/exaudi-core/internal/langtag"
)

// Quality tiers present in the catalog data.
const (
	TierStandard   = "standard"
	TierNeural2    = "neural2"
	TierChirp3HD   = "chirp3_hd"
	TierGemini     = "gemini"
	TierElevenLabs = "elevenlabs"
)

// TierOrder ranks tiers from highest to lowest preference for default
// selection. ElevenLabs sits last: it is an opt-in provider, never an
// implicit upgrade.
var TierOrder = []string{TierGemini, TierChirp3HD, TierNeural2, TierStandard, TierElevenLabs}

//go:embed data/*.yaml
var embedded embed.FS

// Voice is one catalog entry. LanguageCodes holds canonical locales;
// multilingual entries have the wildcard already expanded.
type Voice struct {
	ID             string
	Name           string
	DisplayName    string
	Provider       string
	Family         string
	Tier           string
	Model          string
	Gender         string
	LanguageCodes  []string
	Multilingual   bool
	AvailableTiers []string
}

// SupportsLanguage reports whether the voice declares the canonical
// locale.
func (v *Voice) SupportsLanguage(full string) bool {
	for _, l := range v.LanguageCodes {
		if l == full {
			return true
		}
	}
	return false
}

type tierLang struct {
	tier string
	lang string
}

// Catalog is read-only after Load and safe for concurrent use.
type Catalog struct {
	byID       map[string]*Voice
	byName     map[string]*Voice
	byTierLang map[tierLang][]*Voice
	byProvider map[string][]*Voice
	defaults   map[tierLang]*Voice
}

type familyFile struct {
	Provider string       `yaml:"provider"`
	Family   string       `yaml:"family"`
	Tier     string       `yaml:"tier"`
	Model    string       `yaml:"model"`
	Voices   []voiceEntry `yaml:"voices"`
}

type voiceEntry struct {
	Base           string   `yaml:"base"`
	Name           string   `yaml:"name"`
	DisplayName    string   `yaml:"display_name"`
	Locale         string   `yaml:"locale"`
	Languages      []string `yaml:"languages"`
	Model          string   `yaml:"model"`
	Gender         string   `yaml:"gender"`
	Default        bool     `yaml:"default"`
	AvailableTiers []string `yaml:"available_tiers"`
}

// Load reads every family file from dir, or from the embedded data set
// when dir is empty. supportedLocales is the expansion set for
// wildcard language declarations.
func Load(dir string, supportedLocales []string) (*Catalog, error) {
	var fsys fs.FS
	if dir == "" {
		sub, err := fs.Sub(embedded, "data")
		if err != nil {
			return nil, err
		}
		fsys = sub
	} else {
		fsys = os.DirFS(dir)
	}
	return load(fsys, supportedLocales)
}

func load(fsys fs.FS, supportedLocales []string) (*Catalog, error) {
	expanded := make([]string, 0, len(supportedLocales))
	for _, loc := range supportedLocales {
		tag, err := langtag.Normalize(loc)
		if err != nil {
			return nil, fmt.Errorf("catalog: supported locale %q: %w", loc, err)
		}
		expanded = append(expanded, tag.Full)
	}

	paths, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("catalog: no voice data files found")
	}
	sort.Strings(paths)

	c := &Catalog{
		byID:       make(map[string]*Voice),
		byName:     make(map[string]*Voice),
		byTierLang: make(map[tierLang][]*Voice),
		byProvider: make(map[string][]*Voice),
		defaults:   make(map[tierLang]*Voice),
	}
	for _, path := range paths {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("catalog: read %s: %w", path, err)
		}
		var file familyFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
		}
		if err := c.addFamily(path, file, expanded); err != nil {
			return nil, err
		}
	}
	for _, bucket := range c.byTierLang {
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].Name < bucket[j].Name })
	}
	return c, nil
}

func (c *Catalog) addFamily(path string, file familyFile, supported []string) error {
	if file.Provider == "" || file.Family == "" || file.Tier == "" {
		return fmt.Errorf("catalog: %s: provider, family and tier are required", path)
	}
	for _, entry := range file.Voices {
		if entry.Base == "" || entry.Name == "" || entry.Locale == "" {
			return fmt.Errorf("catalog: %s: voice entries need base, name and locale", path)
		}
		langs := entry.Languages
		if len(langs) == 0 {
			langs = []string{entry.Locale}
		}
		multilingual := false
		var codes []string
		seen := make(map[string]bool)
		for _, l := range langs {
			if l == "*" {
				multilingual = true
				for _, s := range supported {
					if !seen[s] {
						seen[s] = true
						codes = append(codes, s)
					}
				}
				continue
			}
			tag, err := langtag.Normalize(l)
			if err != nil {
				return fmt.Errorf("catalog: %s: voice %q: %w", path, entry.Name, err)
			}
			if !seen[tag.Full] {
				seen[tag.Full] = true
				codes = append(codes, tag.Full)
			}
		}
		if len(codes) == 0 {
			return fmt.Errorf("catalog: %s: voice %q declares no languages", path, entry.Name)
		}
		model := entry.Model
		if model == "" {
			model = file.Model
		}
		display := entry.DisplayName
		if display == "" {
			display = entry.Name
		}
		v := &Voice{
			ID:             strings.Join([]string{file.Provider, file.Family, entry.Locale, entry.Base}, ":"),
			Name:           entry.Name,
			DisplayName:    display,
			Provider:       file.Provider,
			Family:         file.Family,
			Tier:           file.Tier,
			Model:          model,
			Gender:         entry.Gender,
			LanguageCodes:  codes,
			Multilingual:   multilingual,
			AvailableTiers: entry.AvailableTiers,
		}
		if _, dup := c.byID[v.ID]; dup {
			return fmt.Errorf("catalog: %s: duplicate voice id %s", path, v.ID)
		}
		if _, dup := c.byName[v.Name]; dup {
			return fmt.Errorf("catalog: %s: duplicate voice name %s", path, v.Name)
		}
		c.byID[v.ID] = v
		c.byName[v.Name] = v
		c.byProvider[v.Provider] = append(c.byProvider[v.Provider], v)
		for _, code := range codes {
			key := tierLang{v.Tier, code}
			c.byTierLang[key] = append(c.byTierLang[key], v)
			if entry.Default && c.defaults[key] == nil {
				c.defaults[key] = v
			}
		}
	}
	return nil
}

// Voice returns the entry with the given voice id.
func (c *Catalog) Voice(id string) (*Voice, bool) {
	v, ok := c.byID[id]
	return v, ok
}

// Lookup resolves a voice by catalog id or by provider voice name.
func (c *Catalog) Lookup(idOrName string) (*Voice, bool) {
	if v, ok := c.byID[idOrName]; ok {
		return v, true
	}
	v, ok := c.byName[idOrName]
	return v, ok
}

func tiersToSearch(allowed []string) []string {
	if len(allowed) == 0 {
		return TierOrder
	}
	var out []string
	for _, tier := range TierOrder {
		for _, a := range allowed {
			if a == tier {
				out = append(out, tier)
				break
			}
		}
	}
	return out
}

// VoicesFor returns the voices serving language, restricted to
// allowedTiers when non-empty, ordered by tier preference then name.
func (c *Catalog) VoicesFor(language string, allowedTiers []string) ([]*Voice, error) {
	tag, err := langtag.Normalize(language)
	if err != nil {
		return nil, err
	}
	var out []*Voice
	for _, tier := range tiersToSearch(allowedTiers) {
		out = append(out, c.byTierLang[tierLang{tier, tag.Full}]...)
	}
	return out, nil
}

// TierAvailable reports whether any voice serves language at tier.
func (c *Catalog) TierAvailable(tier, language string) bool {
	tag, err := langtag.Normalize(language)
	if err != nil {
		return false
	}
	return len(c.byTierLang[tierLang{tier, tag.Full}]) > 0
}

// DefaultVoiceForTier returns the curated default for (tier,
// language), falling back to the first entry for that pair.
func (c *Catalog) DefaultVoiceForTier(tier, language string) (*Voice, bool) {
	tag, err := langtag.Normalize(language)
	if err != nil {
		return nil, false
	}
	key := tierLang{tier, tag.Full}
	if v := c.defaults[key]; v != nil {
		return v, true
	}
	bucket := c.byTierLang[key]
	if len(bucket) == 0 {
		return nil, false
	}
	return bucket[0], true
}

// CuratedDefault returns the default-flagged voice for language in
// the best allowed tier, without falling back to arbitrary entries.
func (c *Catalog) CuratedDefault(language string, allowedTiers []string) (*Voice, bool) {
	tag, err := langtag.Normalize(language)
	if err != nil {
		return nil, false
	}
	for _, tier := range tiersToSearch(allowedTiers) {
		if v := c.defaults[tierLang{tier, tag.Full}]; v != nil {
			return v, true
		}
	}
	return nil, false
}

// DefaultVoice returns the best default for language across the
// allowed tiers in tier-preference order.
func (c *Catalog) DefaultVoice(language string, allowedTiers []string) (*Voice, bool) {
	for _, tier := range tiersToSearch(allowedTiers) {
		if v, ok := c.DefaultVoiceForTier(tier, language); ok {
			return v, true
		}
	}
	return nil, false
}

// IsValid reports whether idOrName names a catalog voice serving
// language at tier.
func (c *Catalog) IsValid(idOrName, language, tier string) bool {
	v, ok := c.Lookup(idOrName)
	if !ok || v.Tier != tier {
		return false
	}
	tag, err := langtag.Normalize(language)
	if err != nil {
		return false
	}
	return v.SupportsLanguage(tag.Full)
}

// ByProvider returns all voices from one provider.
func (c *Catalog) ByProvider(provider string) []*Voice {
	return c.byProvider[provider]
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.byID)
}
