// Package importer turns xlsx user sheets into batch user creation.
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	userdomain "github.com/smallbiznis/directory/internal/user/domain"
	"github.com/smallbiznis/directory/internal/validation"
	"github.com/xuri/excelize/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sheetName = "Users"

var ErrEmptySheet = errors.New("empty_sheet")

// builtinColumns maps template headers to QuickUser fields.
var builtinColumns = []struct {
	header string
	field  string
}{
	{"Username", "username"},
	{"Full Name", "full_name"},
	{"Email", "email"},
	{"Phone", "phone"},
	{"Phone Country Code", "phone_country_code"},
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Users   userdomain.Service
	Tenants tenantdomain.Service
}

type Importer struct {
	log     *zap.Logger
	users   userdomain.Service
	tenants tenantdomain.Service
}

func New(p Params) *Importer {
	return &Importer{
		log:     p.Log.Named("user.importer"),
		users:   p.Users,
		tenants: p.Tenants,
	}
}

// Template renders an empty sheet with the builtin columns followed by the
// caller tenant's custom fields.
func (i *Importer) Template(ctx context.Context) ([]byte, error) {
	fields, err := i.tenants.ListCustomFields(ctx)
	if err != nil {
		return nil, err
	}
	headers := make([]string, 0, len(builtinColumns)+len(fields))
	for _, c := range builtinColumns {
		headers = append(headers, c.header)
	}
	for _, f := range fields {
		headers = append(headers, f.Name)
	}
	return renderTemplate(headers)
}

// Import creates every row of the first sheet in departmentID, which may be
// empty. Row validation errors are reported against users[n] where n counts
// data rows from zero.
func (i *Importer) Import(ctx context.Context, dataSourceID, departmentID string, r io.Reader) ([]tenantdomain.TenantUser, error) {
	fields, err := i.tenants.ListCustomFields(ctx)
	if err != nil {
		return nil, err
	}
	users, err := Parse(r, fields)
	if err != nil {
		return nil, err
	}
	created, err := i.users.BatchCreateUsers(ctx, userdomain.BatchCreateUsersRequest{
		DataSourceID: dataSourceID,
		DepartmentID: departmentID,
		Users:        users,
	})
	if err != nil {
		return nil, err
	}
	i.log.Info("users imported",
		zap.String("data_source_id", dataSourceID),
		zap.Int("rows", len(users)),
	)
	return created, nil
}

// Parse reads the first sheet. Headers match builtin columns by their
// template title or snake_case name; custom field headers fill extras.
func Parse(r io.Reader, fields []tenantdomain.TenantUserCustomField) ([]userdomain.QuickUser, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, validation.New("file", "invalid", fmt.Sprintf("not an xlsx file: %v", err))
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, ErrEmptySheet
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, ErrEmptySheet
	}

	byName := make(map[string]tenantdomain.TenantUserCustomField, len(fields))
	for _, field := range fields {
		byName[field.Name] = field
	}
	columns := make([]string, len(rows[0]))
	hasUsername := false
	for idx, h := range rows[0] {
		columns[idx] = columnKey(h)
		if columns[idx] == "username" {
			hasUsername = true
		}
	}
	if !hasUsername {
		return nil, validation.New("file", "required", "username column is required")
	}

	users := make([]userdomain.QuickUser, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		var u userdomain.QuickUser
		for idx, key := range columns {
			if idx >= len(row) {
				break
			}
			value := strings.TrimSpace(row[idx])
			if value == "" {
				continue
			}
			switch key {
			case "username":
				u.Username = value
			case "full_name":
				u.FullName = value
			case "email":
				u.Email = value
			case "phone":
				u.Phone = value
			case "phone_country_code":
				u.PhoneCountryCode = value
			default:
				field, ok := byName[key]
				if !ok {
					continue
				}
				if u.Extras == nil {
					u.Extras = map[string]any{}
				}
				u.Extras[key] = cellValue(field, value)
			}
		}
		users = append(users, u)
	}
	if len(users) == 0 {
		return nil, ErrEmptySheet
	}
	return users, nil
}

func renderTemplate(headers []string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	for idx, h := range headers {
		cell, err := excelize.CoordinatesToCellName(idx+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return nil, fmt.Errorf("set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, style); err != nil {
			return nil, fmt.Errorf("style header %s: %w", cell, err)
		}
		col, err := excelize.ColumnNumberToName(idx + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(sheetName, col, col, 20); err != nil {
			return nil, err
		}
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write template: %w", err)
	}
	return buf.Bytes(), nil
}

func columnKey(header string) string {
	h := strings.TrimSpace(header)
	for _, c := range builtinColumns {
		if strings.EqualFold(h, c.header) || strings.EqualFold(h, c.field) {
			return c.field
		}
	}
	return h
}

// cellValue converts text cells into the JSON shape the field type expects.
func cellValue(field tenantdomain.TenantUserCustomField, value string) any {
	switch field.DataType {
	case tenantdomain.CustomFieldNumber:
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			return n
		}
	case tenantdomain.CustomFieldMultiEnum:
		parts := strings.Split(value, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return value
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
