package query

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tehaksbrid/shop-databaser/internal/models"
)

type memReader map[models.DataType][]models.Record

func (m memReader) Read(_ context.Context, t models.DataType) ([]models.Record, error) {
	return m[t], nil
}

// decode builds records the way storage returns them, with json.Number values.
func decode(t *testing.T, raw string) []models.Record {
	t.Helper()
	var out []models.Record
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&out))
	return out
}

func run(t *testing.T, data memReader, q string) []string {
	t.Helper()
	res, err := NewEngine(data, models.StoreRef{UUID: "s1", Name: "test"}).Run(context.Background(), q)
	require.NoError(t, err)
	ids := make([]string, 0, len(res.Records))
	for _, r := range res.Records {
		ids = append(ids, models.RecordID(r))
	}
	return ids
}

func queryErr(t *testing.T, data memReader, q string) *Error {
	t.Helper()
	_, err := NewEngine(data, models.StoreRef{}).Run(context.Background(), q)
	require.Error(t, err)
	var qe *Error
	require.True(t, errors.As(err, &qe), "expected *query.Error, got %T", err)
	return qe
}

// ==================== Parse Tests ====================

func TestParse_Segments(t *testing.T) {
	stages, err := Parse("orders[total>10]:fulfillments[status=shipped]")
	require.NoError(t, err)
	require.Len(t, stages, 1)

	segs := stages[0].Segments
	require.Len(t, segs, 2)
	assert.Equal(t, "orders", segs[0].Name)
	assert.Equal(t, Any, segs[0].Quantifier)
	assert.Equal(t, []Filter{{Input: "total>10", Field: "total", Op: OpGreater, Argument: "10"}}, segs[0].Filters)
	assert.Equal(t, "fulfillments", segs[1].Name)
	assert.Equal(t, OpEqual, segs[1].Filters[0].Op)
}

func TestParse_Quantifiers(t *testing.T) {
	stages, err := Parse("customers & orders * fulfillments")
	require.NoError(t, err)
	segs := stages[0].Segments
	require.Len(t, segs, 3)
	assert.Equal(t, AllNonEmpty, segs[0].Quantifier)
	assert.Equal(t, None, segs[1].Quantifier)
	assert.Equal(t, Any, segs[2].Quantifier)
}

func TestParse_QuantifierCharsInsideBracketsAreLiteral(t *testing.T) {
	stages, err := Parse("orders[note~a:b*c&d]")
	require.NoError(t, err)
	segs := stages[0].Segments
	require.Len(t, segs, 1)
	assert.Equal(t, "a:b*c&d", segs[0].Filters[0].Argument)
	assert.Equal(t, OpContains, segs[0].Filters[0].Op)
}

func TestParse_Operators(t *testing.T) {
	tests := []struct {
		input string
		field string
		op    Operator
		arg   string
	}{
		{"email", "email", OpExists, ""},
		{"status!open", "status", OpNotEqual, "open"},
		{"status != open", "status", OpNotEqual, "open"},
		{"total<=5", "total", OpLessEq, "5"},
		{"total >= 5", "total", OpGreaterEq, "5"},
		{"total<5", "total", OpLess, "5"},
		{"created_at>2021-01-01", "created_at", OpGreater, "2021-01-01"},
		{"tags~vip", "tags", OpContains, "vip"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			f, err := parseFilter(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.field, f.Field)
			assert.Equal(t, tt.op, f.Op)
			assert.Equal(t, tt.arg, f.Argument)
		})
	}
}

func TestParse_MultipleStagesSkipBlankLines(t *testing.T) {
	stages, err := Parse("orders[total>10]\n\n  orders[total<100]  \n")
	require.NoError(t, err)
	assert.Len(t, stages, 2)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		input string
		kind  ErrorKind
	}{
		{"", KindEmptyQuery},
		{"   \n  ", KindEmptyQuery},
		{"orders[total>10", KindBadFilter},
		{"orders[=10]", KindBadFilter},
		{"orders[]", KindBadFilter},
		{"orders]", KindBadFilter},
		{":fulfillments", KindBadSegment},
		{"orders[total>1]extra", KindBadSegment},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			var qe *Error
			require.True(t, errors.As(err, &qe))
			assert.Equal(t, tt.kind, qe.Kind)
		})
	}
}

// ==================== Evaluation Tests ====================

func TestRun_ShippedFulfillmentExamples(t *testing.T) {
	data := memReader{
		models.TypeOrders: decode(t, `[
			{"id": 1, "total": 50, "fulfillments": [{"id": 9, "status": "shipped"}]},
			{"id": 2, "total": 5, "fulfillments": [{"id": 10, "status": "shipped"}]},
			{"id": 3, "total": 70, "fulfillments": [{"id": 11, "status": "pending"}]},
			{"id": 4, "total": 80}
		]`),
	}

	assert.Equal(t, []string{"1"}, run(t, data, "orders[total>10]:fulfillments[status=shipped]"))
	assert.Equal(t, []string{"3", "4"}, run(t, data, "orders*fulfillments[status=shipped]"))
}

func TestRun_AllNonEmpty(t *testing.T) {
	data := memReader{
		models.TypeOrders: decode(t, `[
			{"id": 1, "line_items": [{"sku": "A"}, {"sku": "A"}]},
			{"id": 2, "line_items": [{"sku": "A"}, {"sku": "B"}]},
			{"id": 3, "line_items": []}
		]`),
	}
	assert.Equal(t, []string{"1"}, run(t, data, "orders&line_items[sku=a]"))
}

func TestRun_SingleNestedValue(t *testing.T) {
	data := memReader{
		models.TypeOrders: decode(t, `[
			{"id": 1, "shipping_address": {"country": "Canada"}},
			{"id": 2, "shipping_address": {"country": "France"}},
			{"id": 3, "shipping_address": null}
		]`),
	}
	assert.Equal(t, []string{"1"}, run(t, data, "orders:shipping_address[country=canada]"))
	assert.Equal(t, []string{"2", "3"}, run(t, data, "orders*shipping_address[country=canada]"))
}

func TestRun_FilterCoercion(t *testing.T) {
	data := memReader{
		models.TypeCustomers: decode(t, `[
			{"id": 1, "email": "A@Example.com", "orders_count": "12", "created_at": "2021-03-01T10:00:00-05:00", "note": null},
			{"id": 2, "email": "", "orders_count": 3, "created_at": "2020-12-31T23:00:00Z", "note": "vip"},
			{"id": 3, "orders_count": 0, "created_at": "2022-01-01T00:00:00Z"}
		]`),
	}

	assert.Equal(t, []string{"1"}, run(t, data, "customers[email]"))
	assert.Equal(t, []string{"1"}, run(t, data, "customers[email=a@example.com]"))
	assert.Equal(t, []string{"1"}, run(t, data, "customers[email~EXAMPLE]"))
	assert.Equal(t, []string{"1", "2", "3"}, run(t, data, "customers[orders_count]"), "zero counts as present")
	assert.Equal(t, []string{"1"}, run(t, data, "customers[orders_count>10]"), "numeric, not string, comparison")
	assert.Equal(t, []string{"2", "3"}, run(t, data, "customers[orders_count<=3]"))
	assert.Equal(t, []string{"1", "3"}, run(t, data, "customers[created_at>2021-01-01]"))
	assert.Equal(t, []string{"1"}, run(t, data, "customers[note=null]"))
	assert.Equal(t, []string{"2"}, run(t, data, "customers[note!null]"))
	assert.Equal(t, []string{"1", "3"}, run(t, data, "customers[orders_count!=3]"))
}

func TestRun_ChainedStagesNarrow(t *testing.T) {
	data := memReader{
		models.TypeOrders: decode(t, `[
			{"id": 1, "total": 50},
			{"id": 2, "total": 150},
			{"id": 3, "total": 5}
		]`),
	}
	assert.Equal(t, []string{"1"}, run(t, data, "orders[total>10]\norders[total<100]"))
}

// ==================== Join Tests ====================

func TestRun_JoinsStoredFulfillments(t *testing.T) {
	data := memReader{
		models.TypeOrders: decode(t, `[
			{"id": 1, "fulfillments": [9]},
			{"id": 2, "fulfillments": [10]},
			{"id": 3, "fulfillments": []}
		]`),
		models.TypeFulfillments: decode(t, `[
			{"id": 9, "order_id": 1, "shipment_status": "delivered"},
			{"id": 10, "order_id": 2, "shipment_status": "in_transit"}
		]`),
	}

	assert.Equal(t, []string{"1"}, run(t, data, "orders:fulfillments[shipment_status=delivered]"))
	assert.Equal(t, []string{"2", "3"}, run(t, data, "orders*fulfillments[shipment_status=delivered]"))

	// Stored orders are untouched by the join.
	assert.Equal(t, []any{json.Number("9")}, data[models.TypeOrders][0]["fulfillments"])
}

func TestRun_JoinThroughEmbeddedCollection(t *testing.T) {
	data := memReader{
		models.TypeOrders: decode(t, `[
			{"id": 1, "line_items": [{"product_id": 100}]},
			{"id": 2, "line_items": [{"product_id": 200}]}
		]`),
		models.TypeProducts: decode(t, `[
			{"id": 100, "product_type": "Shoes"},
			{"id": 200, "product_type": "Hats"}
		]`),
	}

	assert.Equal(t, []string{"2"}, run(t, data, "orders:line_items:products[product_type=hats]"))
}

func TestRun_JoinCustomerOrders(t *testing.T) {
	data := memReader{
		models.TypeCustomers: decode(t, `[{"id": 7}, {"id": 8}]`),
		models.TypeOrders:    decode(t, `[{"id": 1, "customer": 7, "total": 500}]`),
	}
	assert.Equal(t, []string{"7"}, run(t, data, "customers:orders[total>100]"))
	assert.Equal(t, []string{"8"}, run(t, data, "customers*orders"))
}

func TestRun_Errors(t *testing.T) {
	data := memReader{}

	qe := queryErr(t, data, "widgets[id]")
	assert.Equal(t, KindUnknownType, qe.Kind)
	assert.Equal(t, "widgets", qe.Token)
	assert.Contains(t, qe.Error(), "unknown data type")

	qe = queryErr(t, data, "discounts:inventory")
	assert.Equal(t, KindUnresolvableJoin, qe.Kind)
	assert.Equal(t, "inventory", qe.Token)

	qe = queryErr(t, data, "orders[total>1]\nwidgets")
	assert.Equal(t, KindUnknownType, qe.Kind)
}

func TestRun_ResultMetadata(t *testing.T) {
	data := memReader{models.TypeOrders: decode(t, `[{"id": 1}]`)}
	res, err := NewEngine(data, models.StoreRef{UUID: "s1", Name: "shop"}).Run(context.Background(), "orders")
	require.NoError(t, err)

	assert.Equal(t, models.TypeOrders, res.Type)
	assert.Equal(t, "shop", res.Store.Name)
	assert.Regexp(t, `^1 results retrieved in \d+\.\d\ds$`, res.Message)
}

func TestValidateRelations(t *testing.T) {
	require.NoError(t, validateRelations(relations))

	bad := map[string]map[models.DataType]Relation{
		"gift_cards": {models.TypeOrders: {ParentKey: "id", ChildKey: "gift_card"}},
	}
	assert.Error(t, validateRelations(bad))

	bad = map[string]map[models.DataType]Relation{
		"orders": {models.TypeCustomers: {ParentKey: "", ChildKey: "id"}},
	}
	assert.Error(t, validateRelations(bad))
}
