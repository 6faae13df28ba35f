package packager

import (
	"regexp"
	"sort"
	"strings"
)

var (
	// overflow-x: hidden on #article-body breaks paged rendering
	cssOverflowPattern = regexp.MustCompile(`(#article-body\s*\{[^{}]+?)overflow-x:\s*hidden;([^{}]+?})`)
	cssPaddingPattern  = regexp.MustCompile(`(#article-body\s*\{[^{}]+?)padding:\s*[^;]+;([^{}]+?})`)
	cssFontPattern     = regexp.MustCompile(`(font-family: '[^']+(Sans|Serif)[^']+';)`)
	cssFontSrcPattern  = regexp.MustCompile(`@font-face\s*\{[^{}]+?(src:\s*url\('(fonts/.+\.ttf)'\).+?;)[^{}]+?}`)
)

// patchMagazineCSS fixes magazine stylesheets for offline readers. Article
// stylesheets get generic fallbacks for fonts that are declared but never
// delivered. Other stylesheets lose the src of any font face whose file was
// not downloaded, as reported by fontExists.
func patchMagazineCSS(css string, fontExists func(src string) bool) string {
	css = cssOverflowPattern.ReplaceAllString(css, "${1}${2}")
	css = cssPaddingPattern.ReplaceAllString(css, "${1}${2}")

	if strings.Contains(css, "#article-body") {
		families := map[string]bool{}
		for _, m := range cssFontPattern.FindAllStringSubmatch(css, -1) {
			families[m[1]] = true
		}
		sorted := make([]string, 0, len(families))
		for f := range families {
			sorted = append(sorted, f)
		}
		sort.Strings(sorted)

		for _, family := range sorted {
			css = strings.ReplaceAll(css, family, fontFallback(family))
		}
		return css
	}

	for _, m := range cssFontSrcPattern.FindAllStringSubmatch(css, -1) {
		if !fontExists(m[2]) {
			css = strings.ReplaceAll(css, m[1], "")
		}
	}
	return css
}

func fontFallback(family string) string {
	out := strings.TrimSuffix(family, ";")
	switch {
	case strings.Contains(family, "Serif"):
		out += `,Charter,"Bitstream Charter","Sitka Text",Cambria,serif`
	case strings.Contains(family, "Sans"):
		out += ",system-ui,sans-serif"
	}
	out += ";"
	switch {
	case strings.Contains(family, "-Bold"):
		out += " font-weight: 700;"
	case strings.Contains(family, "-SemiBold"):
		out += " font-weight: 600;"
	case strings.Contains(family, "-Light"):
		out += " font-weight: 300;"
	}
	return out
}
