package completion

// keywords are the Starlark keywords followed by the identifiers the
// language reserves for future use.
var keywords = []string{
	"and", "break", "continue", "def", "elif", "else", "for", "if", "in",
	"lambda", "load", "not", "or", "pass", "return", "while",

	"as", "assert", "async", "await", "class", "del", "except", "finally",
	"from", "global", "import", "is", "nonlocal", "raise", "try", "with",
	"yield",
}
