// Package langtag normalizes the language identifiers accepted at the
// public surfaces (subscriptions, routing requests, catalog queries)
// onto the canonical locale names used by the voice catalog.
package langtag

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Tag is a normalized language identifier: Full is the canonical
// locale ("en-US", "cmn-TW") and Base its primary subtag ("en", "cmn").
type Tag struct {
	Full string
	Base string
}

// baseAliases folds ISO codes that name the same spoken language as a
// catalog family.
var baseAliases = map[string]string{
	"zh": "cmn",
	"tl": "fil",
}

// primaryRegion fills locales that arrive without a region.
var primaryRegion = map[string]string{
	"ar":  "XA",
	"cmn": "CN",
	"cs":  "CZ",
	"da":  "DK",
	"de":  "DE",
	"el":  "GR",
	"en":  "US",
	"es":  "ES",
	"fi":  "FI",
	"fil": "PH",
	"fr":  "FR",
	"hi":  "IN",
	"hu":  "HU",
	"id":  "ID",
	"it":  "IT",
	"ja":  "JP",
	"ko":  "KR",
	"nl":  "NL",
	"pl":  "PL",
	"pt":  "BR",
	"ro":  "RO",
	"ru":  "RU",
	"sl":  "SI",
	"sv":  "SE",
	"th":  "TH",
	"tr":  "TR",
	"uk":  "UA",
	"vi":  "VN",
}

// Normalize parses a bare base code ("en", "cmn", "fil") or a BCP-47
// locale ("en-US", "pt-BR") and returns its canonical form. Chinese
// variants collapse onto cmn-CN/cmn-TW and Filipino onto fil-PH to
// match the catalog's locale names; a missing region is filled from
// the primary-region table.
func Normalize(code string) (Tag, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return Tag{}, fmt.Errorf("langtag: empty language code")
	}
	parsed, err := language.Parse(trimmed)
	if err != nil {
		return Tag{}, fmt.Errorf("langtag: parse %q: %w", code, err)
	}
	rawBase, _, rawRegion := parsed.Raw()

	base := rawBase.String()
	if base == "und" {
		return Tag{}, fmt.Errorf("langtag: undetermined language %q", code)
	}
	if alias, ok := baseAliases[base]; ok {
		base = alias
	}
	region := ""
	if r := rawRegion.String(); r != "ZZ" {
		region = r
	}

	switch base {
	case "cmn":
		if region == "TW" || region == "HK" {
			region = "TW"
		} else {
			region = "CN"
		}
	case "fil":
		region = "PH"
	default:
		if region == "" {
			if r, ok := primaryRegion[base]; ok {
				region = r
			} else {
				region = strings.ToUpper(base)
			}
		}
	}
	return Tag{Full: base + "-" + region, Base: base}, nil
}
