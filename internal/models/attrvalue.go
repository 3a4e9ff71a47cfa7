package models

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// StringSet is a content value stored as a DynamoDB string set (SS).
type StringSet []string

// NumberSet is a content value stored as a DynamoDB number set (NS). Numbers
// keep the decimal text they were stored with.
type NumberSet []json.Number

// BinarySet is a content value stored as a DynamoDB binary set (BS).
type BinarySet [][]byte

// Null is a content value stored as an explicit NULL, as opposed to an absent attribute.
type Null struct{}

var null = &types.AttributeValueMemberNULL{Value: true}

// MarshalDynamoDBAttributeValue writes the set back as SS. An empty set is
// written as NULL since DynamoDB rejects empty sets.
func (s StringSet) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	if len(s) == 0 {
		return null, nil
	}
	return &types.AttributeValueMemberSS{Value: slices.Clone([]string(s))}, nil
}

// MarshalDynamoDBAttributeValue writes the set back as NS.
func (s NumberSet) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	if len(s) == 0 {
		return null, nil
	}
	out := make([]string, len(s))
	for i, n := range s {
		out[i] = n.String()
	}
	return &types.AttributeValueMemberNS{Value: out}, nil
}

// MarshalDynamoDBAttributeValue writes the set back as BS.
func (s BinarySet) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	if len(s) == 0 {
		return null, nil
	}
	return &types.AttributeValueMemberBS{Value: slices.Clone([][]byte(s))}, nil
}

// MarshalDynamoDBAttributeValue writes NULL.
func (Null) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return null, nil
}

// MarshalJSON writes null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// DecodeAttribute converts a stored attribute into a content value. Sets and
// NULL decode to [StringSet], [NumberSet], [BinarySet] and [Null] so that
// writing the value again keeps its DynamoDB type. Lists and maps are decoded
// element by element.
func DecodeAttribute(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberSS:
		return StringSet(slices.Clone(v.Value)), nil
	case *types.AttributeValueMemberNS:
		out := make(NumberSet, len(v.Value))
		for i, n := range v.Value {
			out[i] = json.Number(n)
		}
		return out, nil
	case *types.AttributeValueMemberBS:
		return BinarySet(slices.Clone(v.Value)), nil
	case *types.AttributeValueMemberNULL:
		return Null{}, nil
	case *types.AttributeValueMemberL:
		out := make([]any, len(v.Value))
		for i, e := range v.Value {
			d, err := DecodeAttribute(e)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	case *types.AttributeValueMemberM:
		out := make(map[string]any, len(v.Value))
		for k, e := range v.Value {
			d, err := DecodeAttribute(e)
			if err != nil {
				return nil, err
			}
			out[k] = d
		}
		return out, nil
	}

	var out any
	if err := attributevalue.Unmarshal(av, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// changeAttrs has the same layout as Change without its attribute methods.
type changeAttrs Change

// MarshalDynamoDBAttributeValue encodes the change. An oldValue of [Null] is
// written as NULL; a nil oldValue is left out.
func (c Change) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	m, err := attributevalue.MarshalMap(changeAttrs(c))
	if err != nil {
		return nil, err
	}
	if _, ok := c.OldValue.(Null); ok {
		m["oldValue"] = null
	}
	return &types.AttributeValueMemberM{Value: m}, nil
}

// UnmarshalDynamoDBAttributeValue decodes a stored change, keeping set types
// and an explicit NULL oldValue.
func (c *Change) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	if _, ok := av.(*types.AttributeValueMemberNULL); ok {
		*c = Change{}
		return nil
	}

	m, ok := av.(*types.AttributeValueMemberM)
	if !ok {
		return fmt.Errorf("change must be a map attribute, got %T", av)
	}

	var out changeAttrs
	if err := attributevalue.UnmarshalMap(m.Value, &out); err != nil {
		return err
	}

	var err error
	if old, ok := m.Value["oldValue"]; ok {
		if out.OldValue, err = DecodeAttribute(old); err != nil {
			return fmt.Errorf("oldValue: %w", err)
		}
	}
	if nv, ok := m.Value["newValue"]; ok {
		if out.NewValue, err = DecodeAttribute(nv); err != nil {
			return fmt.Errorf("newValue: %w", err)
		}
	}

	*c = Change(out)
	return nil
}
