package export

import (
	"bytes"
	"encoding/xml"

	"github.com/nainya/catalogops/pkg/catalog"
)

const (
	spreadsheetNS = "urn:schemas-microsoft-com:office:spreadsheet"
	sheetName     = "Items"
)

// SpreadsheetML 2003 workbook, readable by Excel and LibreOffice
type workbook struct {
	XMLName   xml.Name  `xml:"Workbook"`
	NS        string    `xml:"xmlns,attr"`
	NSSS      string    `xml:"xmlns:ss,attr"`
	Worksheet worksheet `xml:"Worksheet"`
}

type worksheet struct {
	Name  string `xml:"ss:Name,attr"`
	Table table  `xml:"Table"`
}

type table struct {
	Rows []sheetRow `xml:"Row"`
}

type sheetRow struct {
	Cells []sheetCell `xml:"Cell"`
}

type sheetCell struct {
	Data cellData `xml:"Data"`
}

type cellData struct {
	Type  string `xml:"ss:Type,attr"`
	Value string `xml:",chardata"`
}

// sortOrderColumn holds numeric cells
var sortOrderColumn = indexOf(Columns, "Sort Order")

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}

func stringRow(values []string) sheetRow {
	cells := make([]sheetCell, len(values))
	for i, v := range values {
		typ := "String"
		if i == sortOrderColumn {
			typ = "Number"
		}
		cells[i] = sheetCell{Data: cellData{Type: typ, Value: v}}
	}
	return sheetRow{Cells: cells}
}

func encodeSpreadsheet(records []catalog.Record) ([]byte, error) {
	header := make([]sheetCell, len(Columns))
	for i, c := range Columns {
		header[i] = sheetCell{Data: cellData{Type: "String", Value: c}}
	}

	rows := make([]sheetRow, 0, len(records)+1)
	rows = append(rows, sheetRow{Cells: header})
	for _, r := range records {
		rows = append(rows, stringRow(row(r)))
	}

	wb := workbook{
		NS:   spreadsheetNS,
		NSSS: spreadsheetNS,
		Worksheet: worksheet{
			Name:  sheetName,
			Table: table{Rows: rows},
		},
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(`<?mso-application progid="Excel.Sheet"?>` + "\n")

	enc := xml.NewEncoder(&buf)
	enc.Indent("", " ")
	if err := enc.Encode(wb); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
