package store

// Tables names the two DynamoDB tables the store operates on. Both tables
// key on the "id" attribute (string, partition key only).
type Tables struct {
	// Groups is the group table name.
	// Default: "tally_groups"
	Groups string

	// Users is the user table name.
	// Default: "tally_users"
	Users string
}

// DefaultTables returns the default table names.
func DefaultTables() Tables {
	return Tables{
		Groups: "tally_groups",
		Users:  "tally_users",
	}
}

// validate fills in defaults for unset names.
func (t *Tables) validate() {
	if t.Groups == "" {
		t.Groups = "tally_groups"
	}
	if t.Users == "" {
		t.Users = "tally_users"
	}
}
