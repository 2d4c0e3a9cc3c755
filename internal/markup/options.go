package markup

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ParseMode is a combined set of parser flags.
type ParseMode uint32

// Flag values follow the libxml2 numbering so that configurations written
// for other XML tooling resolve to the same bits.
const (
	Strict     ParseMode = 0
	Recover    ParseMode = 1 << 0
	NoEnt      ParseMode = 1 << 1
	DTDLoad    ParseMode = 1 << 2
	DTDAttr    ParseMode = 1 << 3
	DTDValid   ParseMode = 1 << 4
	NoError    ParseMode = 1 << 5
	NoWarning  ParseMode = 1 << 6
	Pedantic   ParseMode = 1 << 7
	NoBlanks   ParseMode = 1 << 8
	SAX1       ParseMode = 1 << 9
	XInclude   ParseMode = 1 << 10
	NoNet      ParseMode = 1 << 11
	NoDict     ParseMode = 1 << 12
	NSClean    ParseMode = 1 << 13
	NoCDATA    ParseMode = 1 << 14
	NoXIncNode ParseMode = 1 << 15
	Compact    ParseMode = 1 << 16
	Old10      ParseMode = 1 << 17
	NoBaseFix  ParseMode = 1 << 18
	Huge       ParseMode = 1 << 19
	BigLines   ParseMode = 1 << 22
)

// DefaultParseMode is used when no parse options are configured. Malformed
// input is recovered and its diagnostics are not reported.
const DefaultParseMode = Recover | NoError | NoWarning | NoNet

// parseModeNames is keyed by the normalized flag name: upper case, no underscores.
var parseModeNames = map[string]ParseMode{
	"STRICT":     Strict,
	"RECOVER":    Recover,
	"NOENT":      NoEnt,
	"DTDLOAD":    DTDLoad,
	"DTDATTR":    DTDAttr,
	"DTDVALID":   DTDValid,
	"NOERROR":    NoError,
	"NOWARNING":  NoWarning,
	"PEDANTIC":   Pedantic,
	"NOBLANKS":   NoBlanks,
	"SAX1":       SAX1,
	"XINCLUDE":   XInclude,
	"NONET":      NoNet,
	"NODICT":     NoDict,
	"NSCLEAN":    NSClean,
	"NOCDATA":    NoCDATA,
	"NOXINCNODE": NoXIncNode,
	"COMPACT":    Compact,
	"OLD10":      Old10,
	"NOBASEFIX":  NoBaseFix,
	"HUGE":       Huge,
	"BIGLINES":   BigLines,
	"DEFAULTXML": DefaultParseMode,
}

// ErrUnknownParseOption is matched by every UnknownParseOptionError.
var ErrUnknownParseOption = errors.New("unknown parse option")

// UnknownParseOptionError names a flag that is not in the closed flag table.
type UnknownParseOptionError struct {
	Name string
}

func (e *UnknownParseOptionError) Error() string {
	return fmt.Sprintf("unknown parse option %q", e.Name)
}

func (e *UnknownParseOptionError) Is(target error) bool {
	return target == ErrUnknownParseOption
}

// ResolveParseMode turns a comma or pipe separated list of flag names into a
// ParseMode. Names are case-insensitive and underscores are ignored, so
// "no_error", "NOERROR" and "NoError" are the same flag. An empty list
// resolves to DefaultParseMode.
func ResolveParseMode(list string) (ParseMode, error) {
	tokens := strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == '|'
	})

	var mode ParseMode
	seen := false
	for _, tok := range tokens {
		name := normalizeOptionName(tok)
		if name == "" {
			continue
		}
		flag, ok := parseModeNames[name]
		if !ok {
			return 0, &UnknownParseOptionError{Name: strings.TrimSpace(tok)}
		}
		mode |= flag
		seen = true
	}
	if !seen {
		return DefaultParseMode, nil
	}
	return mode, nil
}

func normalizeOptionName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "_", "")
	return strings.ToUpper(s)
}

// Has reports whether every bit of flag is set.
func (m ParseMode) Has(flag ParseMode) bool {
	return m&flag == flag
}

// Lenient reports whether malformed input is recovered instead of rejected.
func (m ParseMode) Lenient() bool {
	return m&(Recover|NoError) != 0
}

// MaxDepth is the deepest element nesting the parser accepts.
func (m ParseMode) MaxDepth() int {
	if m.Has(Huge) {
		return 2048
	}
	return 256
}

func (m ParseMode) String() string {
	if m == Strict {
		return "STRICT"
	}
	var names []string
	for name, flag := range parseModeNames {
		if flag == Strict || name == "DEFAULTXML" {
			continue
		}
		if m.Has(flag) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}
