// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package changeevent

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"storj.io/columnmanager/repository/entitykey"
)

// TimeFormat is the timestamp format of the CSV export.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Header is the first line of the CSV export.
//
// Every field except Timestamp and Entity_Type is escaped: a backslash is
// written as \\, a carriage return as \r and a byte that is not part of valid
// UTF-8 as \xHH. The export is therefore valid UTF-8 and survives CSV readers
// that normalize line endings.
var Header = []string{
	"Timestamp",
	"Acting_User",
	"Entity_Type",
	"Namespace",
	"Table",
	"Column_Family",
	"Column_Qualifier",
	"Attribute_Name",
	"Attribute_Value",
}

// Record is a single exported change event.
type Record struct {
	Timestamp      time.Time
	ActingUser     string
	EntityType     entitykey.Type
	Namespace      string
	Table          string
	Family         string
	Qualifier      string
	AttributeName  string
	AttributeValue string
}

// Record returns the exported form of the event.
func (event *Event) Record() Record {
	return Record{
		Timestamp:      event.Time(),
		ActingUser:     event.ActingUser,
		EntityType:     event.EntityType,
		Namespace:      event.Namespace,
		Table:          event.Table,
		Family:         event.Family,
		Qualifier:      string(event.Qualifier),
		AttributeName:  event.AttributeName,
		AttributeValue: string(event.AttributeValue),
	}
}

func (record Record) fields() []string {
	return []string{
		record.Timestamp.UTC().Format(TimeFormat),
		escapeField(record.ActingUser),
		record.EntityType.String(),
		escapeField(record.Namespace),
		escapeField(record.Table),
		escapeField(record.Family),
		escapeField(record.Qualifier),
		escapeField(record.AttributeName),
		escapeField(record.AttributeValue),
	}
}

func escapeField(s string) string {
	if !strings.ContainsAny(s, "\\\r") && utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			fmt.Fprintf(&b, `\x%02X`, s[i])
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\r':
			b.WriteString(`\r`)
		default:
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

func unescapeField(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 >= len(s) {
			return "", Error.New("truncated escape in %q", s)
		}
		i++
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'x':
			if i+3 > len(s) {
				return "", Error.New("truncated escape in %q", s)
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return "", Error.New("invalid escape in %q", s)
			}
			b.WriteByte(byte(v))
			i += 2
		default:
			return "", Error.New("invalid escape in %q", s)
		}
	}
	return b.String(), nil
}

// WriteCSV writes the header and one line per event to w.
func WriteCSV(w io.Writer, events []*Event) error {
	csvw := csv.NewWriter(w)
	if err := csvw.Write(Header); err != nil {
		return Error.Wrap(err)
	}
	for _, event := range events {
		if err := csvw.Write(event.Record().fields()); err != nil {
			return Error.Wrap(err)
		}
	}
	csvw.Flush()
	return Error.Wrap(csvw.Error())
}

// ReadCSV parses an export written by WriteCSV.
func ReadCSV(r io.Reader) ([]Record, error) {
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = len(Header)

	header, err := csvr.Read()
	if errors.Is(err, io.EOF) {
		return nil, Error.New("missing header")
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if !slices.Equal(header, Header) {
		return nil, Error.New("unexpected header %q", header)
	}

	var records []Record
	for {
		fields, err := csvr.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, Error.Wrap(err)
		}

		timestamp, err := time.Parse(TimeFormat, fields[0])
		if err != nil {
			return nil, Error.Wrap(err)
		}
		entityType, err := entitykey.ParseType(fields[2])
		if err != nil {
			return nil, Error.Wrap(err)
		}

		for _, i := range []int{1, 3, 4, 5, 6, 7, 8} {
			fields[i], err = unescapeField(fields[i])
			if err != nil {
				return nil, err
			}
		}

		records = append(records, Record{
			Timestamp:      timestamp.UTC(),
			ActingUser:     fields[1],
			EntityType:     entityType,
			Namespace:      fields[3],
			Table:          fields[4],
			Family:         fields[5],
			Qualifier:      fields[6],
			AttributeName:  fields[7],
			AttributeValue: fields[8],
		})
	}
}
