// Package condition builds DynamoDB condition expressions together with
// the attribute name and value placeholder maps they reference.
package condition

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Cond is a condition expression with its placeholder maps. The maps are
// nil when the expression references no names or values of that kind.
type Cond struct {
	Expr   string
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// Exists asserts that attr is present on the stored item.
func Exists(attr string) Cond {
	return Cond{
		Expr:  "attribute_exists(#" + attr + ")",
		Names: map[string]string{"#" + attr: attr},
	}
}

// NotExists asserts that attr is absent. Applied to a key attribute this
// means "no item with this key exists".
func NotExists(attr string) Cond {
	return Cond{
		Expr:  "attribute_not_exists(#" + attr + ")",
		Names: map[string]string{"#" + attr: attr},
	}
}

// StringEquals asserts that attr equals the given string.
func StringEquals(attr, value string) Cond {
	return Cond{
		Expr:   "#" + attr + " = :" + attr,
		Names:  map[string]string{"#" + attr: attr},
		Values: map[string]types.AttributeValue{":" + attr: &types.AttributeValueMemberS{Value: value}},
	}
}

// IsZero asserts that the numeric attr equals zero.
func IsZero(attr string) Cond {
	return Cond{
		Expr:   "#" + attr + " = :zero",
		Names:  map[string]string{"#" + attr: attr},
		Values: map[string]types.AttributeValue{":zero": &types.AttributeValueMemberN{Value: "0"}},
	}
}

// Positive asserts that the numeric attr is greater than zero.
func Positive(attr string) Cond {
	return Cond{
		Expr:   "#" + attr + " > :zero",
		Names:  map[string]string{"#" + attr: attr},
		Values: map[string]types.AttributeValue{":zero": &types.AttributeValueMemberN{Value: "0"}},
	}
}

// And joins conditions with AND, merging their placeholder maps. Callers
// must not reuse a value placeholder for two different values.
func And(conds ...Cond) Cond {
	if len(conds) == 1 {
		return conds[0]
	}
	out := Cond{}
	for _, c := range conds {
		if c.Expr == "" {
			continue
		}
		if out.Expr != "" {
			out.Expr += " AND "
		}
		out.Expr += c.Expr
		out.Names = MergeNames(out.Names, c.Names)
		out.Values = MergeValues(out.Values, c.Values)
	}
	return out
}

// MergeNames merges expression attribute name maps, returning nil when all
// inputs are empty.
func MergeNames(maps ...map[string]string) map[string]string {
	var out map[string]string
	for _, m := range maps {
		for k, v := range m {
			if out == nil {
				out = make(map[string]string)
			}
			out[k] = v
		}
	}
	return out
}

// MergeValues merges expression attribute value maps, returning nil when
// all inputs are empty.
func MergeValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	var out map[string]types.AttributeValue
	for _, m := range maps {
		for k, v := range m {
			if out == nil {
				out = make(map[string]types.AttributeValue)
			}
			out[k] = v
		}
	}
	return out
}
