// Package models defines the core data structures used throughout shop-databaser
// including stores, records, sync metadata, and status reports.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// DataType names one kind of replicated record.
type DataType string

const (
	TypeOrders       DataType = "orders"
	TypeFulfillments DataType = "fulfillments"
	TypeCustomers    DataType = "customers"
	TypeProducts     DataType = "products"
	TypeDiscounts    DataType = "discounts"
	TypeInventory    DataType = "inventory"
)

// DataTypes lists every stored type in a stable order.
var DataTypes = []DataType{
	TypeOrders,
	TypeFulfillments,
	TypeCustomers,
	TypeProducts,
	TypeDiscounts,
	TypeInventory,
}

// ParseDataType returns the DataType for name, or false if it is not a stored type.
func ParseDataType(name string) (DataType, bool) {
	for _, t := range DataTypes {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}

// WriteTimeField is stamped on every record when it is durably appended.
const WriteTimeField = "_write_time"

// Record is a semi-structured object received from the remote source.
type Record map[string]any

// RecordID returns the record's id normalized to a string, or "" if absent.
func RecordID(r Record) string {
	return idString(r["id"])
}

// WriteTime returns the record's _write_time in unix milliseconds, or 0 if unset.
func WriteTime(r Record) int64 {
	switch v := r[WriteTimeField].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, _ := v.Float64()
			return int64(f)
		}
		return n
	}
	return 0
}

// IDString normalizes any id-like JSON value to the string used as an index key.
func IDString(v any) string {
	return idString(v)
}

func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return fmt.Sprint(id)
	}
}
