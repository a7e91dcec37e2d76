// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package xmlrpc implements the XML-RPC wire codec used on both directions
// of the CCU channel: decoding inbound methodCall bodies, encoding
// methodResponse/fault replies, and the client-side counterparts. Values map
// to Go as int, bool, string, float64, time.Time, []byte, []any and
// map[string]any.
package xmlrpc

import "encoding/xml"

// Classic XML-RPC dateTime.iso8601 layout plus the extended variant some
// CCU firmwares emit.
const (
	iso8601Layout    = "20060102T15:04:05"
	iso8601ExtLayout = "2006-01-02T15:04:05"
)

type methodCall struct {
	XMLName    xml.Name `xml:"methodCall"`
	MethodName string   `xml:"methodName"`
	Params     []param  `xml:"params>param"`
}

type methodResponse struct {
	XMLName xml.Name   `xml:"methodResponse"`
	Params  []param    `xml:"params>param"`
	Fault   *faultBody `xml:"fault"`
}

type faultBody struct {
	Value value `xml:"value"`
}

type param struct {
	Value value `xml:"value"`
}

// value is the polymorphic <value> element. Exactly one typed child is set;
// bare character data (no child element) is a string per the XML-RPC spec.
type value struct {
	Raw      string      `xml:",chardata"`
	Int      *string     `xml:"int"`
	I4       *string     `xml:"i4"`
	Boolean  *string     `xml:"boolean"`
	Str      *string     `xml:"string"`
	Double   *string     `xml:"double"`
	DateTime *string     `xml:"dateTime.iso8601"`
	Base64   *string     `xml:"base64"`
	Struct   *structElem `xml:"struct"`
	Array    *arrayElem  `xml:"array"`
}

type structElem struct {
	Members []member `xml:"member"`
}

type member struct {
	Name  string `xml:"name"`
	Value value  `xml:"value"`
}

type arrayElem struct {
	Data arrayData `xml:"data"`
}

type arrayData struct {
	Values []value `xml:"value"`
}
