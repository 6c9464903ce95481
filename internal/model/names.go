package model

import (
	"go/token"
	"path"
	"strings"
	"unicode"
)

// PackageDir maps a dotted package ("shop.order") to its slash-separated
// directory relative to a source root ("shop/order").
func PackageDir(pkg string) string {
	return strings.ReplaceAll(pkg, ".", "/")
}

// PackageFromDir is the inverse of PackageDir. The root directory maps to "".
func PackageFromDir(rel string) string {
	rel = path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	if rel == "." || rel == "" {
		return ""
	}
	return strings.ReplaceAll(rel, "/", ".")
}

// PackageName returns the Go package clause for a dotted package.
func PackageName(pkg string) string {
	if i := strings.LastIndexByte(pkg, '.'); i >= 0 {
		return pkg[i+1:]
	}
	return pkg
}

// ValidPackage reports whether every dot-separated segment of pkg is a Go
// identifier that is not a keyword.
func ValidPackage(pkg string) bool {
	if pkg == "" {
		return false
	}
	for _, seg := range strings.Split(pkg, ".") {
		if !token.IsIdentifier(seg) {
			return false
		}
	}
	return true
}

// ValidTypeName reports whether name can be used as an exported Go type.
func ValidTypeName(name string) bool {
	return token.IsIdentifier(name) && token.IsExported(name)
}

// DefaultMethod is the listener method name used when none is given.
func DefaultMethod(consumes string) string {
	return "On" + consumes
}

// SnakeCase converts a Go identifier to the snake_case file stem used for
// generated files ("OrderRepository" -> "order_repository", "OrderID" ->
// "order_id").
func SnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
