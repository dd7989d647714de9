package schema

// lexicon maps a canonical concept to the synonym tokens a column name
// might use to express it. Extension is addition here, never code change.
var lexicon = map[string][]string{
	"price": {
		"price", "cost", "amount", "fee", "charge", "rate", "value",
	},
	"date": {
		"date", "day", "time", "timestamp", "when", "period",
	},
	"location": {
		"location", "city", "region", "venue", "place", "address", "country", "state",
	},
	"attendance": {
		"attendance", "attendees", "headcount", "turnout", "visitors", "crowd",
	},
	"revenue": {
		"revenue", "sales", "income", "earnings", "gross", "proceeds",
	},
	"event": {
		"event", "show", "concert", "game", "match", "session", "occasion",
	},
	"name": {
		"name", "title", "label", "id", "identifier", "description",
	},
	"quantity": {
		"quantity", "qty", "count", "number", "units", "volume",
	},
}

// concepts returns the lexicon's keys in a stable order, for deterministic
// grouping output.
func concepts() []string {
	return []string{"price", "date", "location", "attendance", "revenue", "event", "name", "quantity"}
}
