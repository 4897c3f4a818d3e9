package llm

// MaxALSLength is the hard cap on the ambient locale signals block,
// in characters (runes).
const MaxALSLength = 350

// LocaleSystemInstruction is injected as the system message when the caller
// supplied an ALS block but no system text. The model must adopt the ambient
// context silently, without naming countries or regions.
const LocaleSystemInstruction = "Use ambient context only to infer locale and set defaults " +
	"(units, currency, spelling, examples). Do not mention, name, or acknowledge " +
	"the ambient context or any country or region it may imply."

// ALS delivery shapes recorded in Meta under MetaALSShape.
const (
	ALSShapeSeparateTurn     = "separate_turn"
	ALSShapePrefixedContents = "prefixed_contents"
)
