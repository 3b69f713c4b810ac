package rtorrent

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Minimal XML-RPC codec covering the value types rtorrent uses: strings,
// integers, doubles, base64 blobs, arrays and structs.

type faultError struct {
	Code    int64
	Message string
}

func (e faultError) Error() string {
	return fmt.Sprintf("xmlrpc fault %d: %s", e.Code, e.Message)
}

func marshalCall(method string, args ...interface{}) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString("<methodCall><methodName>")
	xml.EscapeText(&b, []byte(method))
	b.WriteString("</methodName><params>")
	for _, arg := range args {
		b.WriteString("<param>")
		if err := writeValue(&b, arg); err != nil {
			return nil, err
		}
		b.WriteString("</param>")
	}
	b.WriteString("</params></methodCall>")
	return b.Bytes(), nil
}

func writeValue(b *bytes.Buffer, v interface{}) error {
	b.WriteString("<value>")
	switch x := v.(type) {
	case string:
		b.WriteString("<string>")
		xml.EscapeText(b, []byte(x))
		b.WriteString("</string>")
	case int:
		fmt.Fprintf(b, "<i8>%d</i8>", x)
	case int64:
		fmt.Fprintf(b, "<i8>%d</i8>", x)
	case bool:
		if x {
			b.WriteString("<boolean>1</boolean>")
		} else {
			b.WriteString("<boolean>0</boolean>")
		}
	case float64:
		fmt.Fprintf(b, "<double>%g</double>", x)
	case []byte:
		b.WriteString("<base64>")
		b.WriteString(base64.StdEncoding.EncodeToString(x))
		b.WriteString("</base64>")
	case []interface{}:
		b.WriteString("<array><data>")
		for _, e := range x {
			if err := writeValue(b, e); err != nil {
				return err
			}
		}
		b.WriteString("</data></array>")
	case map[string]interface{}:
		b.WriteString("<struct>")
		for name, e := range x {
			b.WriteString("<member><name>")
			xml.EscapeText(b, []byte(name))
			b.WriteString("</name>")
			if err := writeValue(b, e); err != nil {
				return err
			}
			b.WriteString("</member>")
		}
		b.WriteString("</struct>")
	default:
		return fmt.Errorf("unsupported xmlrpc value type %T", v)
	}
	b.WriteString("</value>")
	return nil
}

type xValue struct {
	String  *string   `xml:"string"`
	I4      *string   `xml:"i4"`
	I8      *string   `xml:"i8"`
	Int     *string   `xml:"int"`
	Boolean *string   `xml:"boolean"`
	Double  *string   `xml:"double"`
	Base64  *string   `xml:"base64"`
	Array   *xArray   `xml:"array"`
	Struct  []xMember `xml:"struct>member"`
	Raw     string    `xml:",chardata"`
}

type xArray struct {
	Values []xValue `xml:"data>value"`
}

type xMember struct {
	Name  string `xml:"name"`
	Value xValue `xml:"value"`
}

type xResponse struct {
	XMLName xml.Name `xml:"methodResponse"`
	Params  []xValue `xml:"params>param>value"`
	Fault   *xValue  `xml:"fault>value"`
}

func unmarshalResponse(data []byte) (interface{}, error) {
	var resp xResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %s", err)
	}
	if resp.Fault != nil {
		f, err := convert(*resp.Fault)
		if err != nil {
			return nil, err
		}
		m, _ := f.(map[string]interface{})
		fe := faultError{}
		if code, ok := m["faultCode"].(int64); ok {
			fe.Code = code
		}
		if msg, ok := m["faultString"].(string); ok {
			fe.Message = msg
		}
		return nil, fe
	}
	if len(resp.Params) == 0 {
		return nil, nil
	}
	return convert(resp.Params[0])
}

func convert(v xValue) (interface{}, error) {
	switch {
	case v.String != nil:
		return *v.String, nil
	case v.I4 != nil:
		return parseInt(*v.I4)
	case v.I8 != nil:
		return parseInt(*v.I8)
	case v.Int != nil:
		return parseInt(*v.Int)
	case v.Boolean != nil:
		return strings.TrimSpace(*v.Boolean) == "1", nil
	case v.Double != nil:
		return strconv.ParseFloat(strings.TrimSpace(*v.Double), 64)
	case v.Base64 != nil:
		return base64.StdEncoding.DecodeString(strings.TrimSpace(*v.Base64))
	case v.Array != nil:
		out := make([]interface{}, 0, len(v.Array.Values))
		for _, e := range v.Array.Values {
			c, err := convert(e)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	case len(v.Struct) > 0:
		out := make(map[string]interface{}, len(v.Struct))
		for _, m := range v.Struct {
			c, err := convert(m.Value)
			if err != nil {
				return nil, err
			}
			out[m.Name] = c
		}
		return out, nil
	default:
		// Bare value content is a string per the XML-RPC spec.
		return v.Raw, nil
	}
}

func parseInt(s string) (interface{}, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse int: %s", err)
	}
	return n, nil
}

// asString and asInt tolerate the loose typing of multicall rows.
func asString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}

func asInt(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return 0
	}
}
