package core

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxDogTextLength bounds name and color.
const MaxDogTextLength = 100

// ErrDuplicateDogName reports a name that is already stored.
var ErrDuplicateDogName = errors.New("dog with this name already exists")

// Dog is a stored dog record. ID is internal and never serialized.
type Dog struct {
	ID         int64  `json:"-" yaml:"-"`
	Name       string `json:"name" yaml:"name"`
	Color      string `json:"color" yaml:"color"`
	TailLength int    `json:"tail_length" yaml:"tail_length"`
	Weight     int    `json:"weight" yaml:"weight"`
}

// CreateDogRequest is the payload accepted when adding a dog.
type CreateDogRequest struct {
	Name       string `json:"name" yaml:"name"`
	Color      string `json:"color" yaml:"color"`
	TailLength int    `json:"tail_length" yaml:"tail_length"`
	Weight     int    `json:"weight" yaml:"weight"`
}

// ValidationErrors maps field names to the first problem found for them.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, v[field])
	}
	return strings.Join(parts, "; ")
}

// Normalize trims surrounding whitespace from text fields.
func (r CreateDogRequest) Normalize() CreateDogRequest {
	r.Name = strings.TrimSpace(r.Name)
	r.Color = strings.TrimSpace(r.Color)
	return r
}

// Validate checks the request after Normalize. It returns ValidationErrors
// or nil.
func (r CreateDogRequest) Validate() error {
	errs := ValidationErrors{}

	switch {
	case r.Name == "":
		errs["name"] = "Name is required"
	case utf8.RuneCountInString(r.Name) > MaxDogTextLength:
		errs["name"] = fmt.Sprintf("Name must be at most %d characters", MaxDogTextLength)
	}

	switch {
	case r.Color == "":
		errs["color"] = "Color is required"
	case utf8.RuneCountInString(r.Color) > MaxDogTextLength:
		errs["color"] = fmt.Sprintf("Color must be at most %d characters", MaxDogTextLength)
	}

	if r.TailLength < 0 {
		errs["tail_length"] = "Tail length must be zero or positive"
	}
	if r.Weight < 1 {
		errs["weight"] = "Weight must be positive"
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Dog converts the request into an unsaved record.
func (r CreateDogRequest) Dog() Dog {
	return Dog{
		Name:       r.Name,
		Color:      r.Color,
		TailLength: r.TailLength,
		Weight:     r.Weight,
	}
}

// SortAttribute names a sortable dog column.
type SortAttribute string

const (
	SortNone       SortAttribute = ""
	SortName       SortAttribute = "name"
	SortColor      SortAttribute = "color"
	SortTailLength SortAttribute = "tail_length"
	SortWeight     SortAttribute = "weight"
)

// SortOrder is asc or desc.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

const (
	DefaultPageNumber = 1
	DefaultPageSize   = 10
	MaxPageSize       = 100
)

// Query parsing errors, worded for API callers.
const (
	ErrMsgInvalidAttribute = "Invalid attribute. Use: name, color, tail_length, or weight"
	ErrMsgInvalidOrder     = "Invalid order. Use: asc or desc"
	ErrMsgInvalidPage      = "Page number and page size must be positive"
	ErrMsgPageSizeTooLarge = "Page size must be at most 100"
	ErrMsgPageNumberTooBig = "Page number is too large"
)

// QueryError reports an invalid list query parameter.
type QueryError struct {
	Param   string
	Message string
}

func (e *QueryError) Error() string {
	return e.Message
}

// DogsQuery selects a sorted page of dogs. Without an attribute dogs are
// returned in insertion order.
type DogsQuery struct {
	Attribute  SortAttribute
	Order      SortOrder
	PageNumber int
	PageSize   int
}

// DefaultDogsQuery returns the first page of ten in insertion order.
func DefaultDogsQuery() DogsQuery {
	return DogsQuery{
		Order:      OrderAsc,
		PageNumber: DefaultPageNumber,
		PageSize:   DefaultPageSize,
	}
}

// ParseDogsQuery validates raw parameter values. Empty values take defaults;
// attribute and order are case-insensitive.
func ParseDogsQuery(attribute, order, pageNumber, pageSize string) (DogsQuery, error) {
	q := DefaultDogsQuery()

	if attribute = strings.ToLower(strings.TrimSpace(attribute)); attribute != "" {
		switch SortAttribute(attribute) {
		case SortName, SortColor, SortTailLength, SortWeight:
			q.Attribute = SortAttribute(attribute)
		default:
			return DogsQuery{}, &QueryError{Param: "attribute", Message: ErrMsgInvalidAttribute}
		}
	}

	if order = strings.ToLower(strings.TrimSpace(order)); order != "" {
		switch SortOrder(order) {
		case OrderAsc, OrderDesc:
			q.Order = SortOrder(order)
		default:
			return DogsQuery{}, &QueryError{Param: "order", Message: ErrMsgInvalidOrder}
		}
	}

	var err error
	if q.PageNumber, err = parsePageValue(pageNumber, DefaultPageNumber); err != nil {
		return DogsQuery{}, &QueryError{Param: "pageNumber", Message: ErrMsgInvalidPage}
	}
	if q.PageSize, err = parsePageValue(pageSize, DefaultPageSize); err != nil {
		return DogsQuery{}, &QueryError{Param: "pageSize", Message: ErrMsgInvalidPage}
	}
	if err := q.checkPageBounds(); err != nil {
		return DogsQuery{}, err
	}

	return q, nil
}

// Validate re-checks a query built in code.
func (q DogsQuery) Validate() error {
	switch q.Attribute {
	case SortNone, SortName, SortColor, SortTailLength, SortWeight:
	default:
		return &QueryError{Param: "attribute", Message: ErrMsgInvalidAttribute}
	}
	switch q.Order {
	case "", OrderAsc, OrderDesc:
	default:
		return &QueryError{Param: "order", Message: ErrMsgInvalidOrder}
	}
	if q.PageNumber < 1 || q.PageSize < 1 {
		return &QueryError{Param: "page", Message: ErrMsgInvalidPage}
	}
	return q.checkPageBounds()
}

// checkPageBounds caps the page size and keeps Offset from overflowing.
func (q DogsQuery) checkPageBounds() error {
	if q.PageSize > MaxPageSize {
		return &QueryError{Param: "pageSize", Message: ErrMsgPageSizeTooLarge}
	}
	if q.PageNumber-1 > math.MaxInt/q.PageSize {
		return &QueryError{Param: "pageNumber", Message: ErrMsgPageNumberTooBig}
	}
	return nil
}

// Offset returns the number of rows skipped before the page.
func (q DogsQuery) Offset() int {
	return (q.PageNumber - 1) * q.PageSize
}

func parsePageValue(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if value < 1 {
		return 0, fmt.Errorf("page value must be positive: %d", value)
	}
	return value, nil
}
