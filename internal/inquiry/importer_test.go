package inquiry

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpbf-planner/internal/errs"
	"lpbf-planner/internal/model"
	"lpbf-planner/internal/store"
)

func TestImport(t *testing.T) {
	est := &stubEstimator{}
	svc, s := newService(t, est)
	ctx := context.Background()

	file := "\xef\xbb\xbfInquiry Number;Customer Number;Machine;Material;Part Name;Quantity;Projected Area CM2;Part Height MM;QC Time H;Requested Delivery Date;Lead Time Flexible\n" +
		"INQ-7;C-7;M2 neu;Inconel 718;Bracket;3;12,5;40;0,5;2026-11-02;true\n" +
		"INQ-7;C-7;M2 neu;Inconel 625;Housing;;30;55;;;\n" +
		"INQ-8;C-8;X9;Inconel 718;Lever;1;10;20;;;\n" +
		"INQ-8;C-8;M2 neu;Inconel 718;Cover;two;10;20;;;\n"

	res, err := svc.Import(ctx, strings.NewReader(file))
	require.NoError(t, err)
	assert.Len(t, res.Imported, 2)
	assert.Empty(t, res.Pending)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 4, res.Errors[0].Row)
	assert.Equal(t, 5, res.Errors[1].Row)
	assert.Len(t, est.calls, 2)

	parts, err := s.ListParts(ctx, store.PartFilter{InquiryNumber: "INQ-7"})
	require.NoError(t, err)
	require.Len(t, parts, 2)
	byName := map[string]model.PartRequest{}
	for _, p := range parts {
		byName[p.PartName] = p
	}
	bracket := byName["Bracket"]
	assert.Equal(t, 3, bracket.Quantity)
	assert.Equal(t, "12.5", bracket.ProjectedAreaCM2.String())
	assert.True(t, bracket.LeadTimeFlexible)
	require.NotNil(t, bracket.RequestedDeliveryDate)
	assert.Equal(t, "2026-11-02", bracket.RequestedDeliveryDate.Format("2006-01-02"))
	assert.Equal(t, model.PartQuoted, bracket.Status)
	assert.Equal(t, 1, byName["Housing"].Quantity)
}

func TestImport_EstimationDownKeepsRows(t *testing.T) {
	svc, _ := newService(t, &stubEstimator{err: errs.ErrExternalService})

	res, err := svc.Import(context.Background(), strings.NewReader(
		"inquiry_number,customer_number,machine,material,part_name,projected_area_cm2\n"+
			"INQ-1,C-1,M2 neu,Inconel 718,Bracket,10\n"))
	require.NoError(t, err)
	assert.Len(t, res.Imported, 1)
	assert.Equal(t, res.Imported, res.Pending)
	assert.Empty(t, res.Errors)
}

func TestImport_RejectsFile(t *testing.T) {
	testCases := []struct {
		name string
		file string
	}{
		{"empty", ""},
		{"header only", "inquiry_number,customer_number,machine,material,part_name\n"},
		{"missing columns", "inquiry_number\tpart_name\nINQ-1\tBracket\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newService(t, &stubEstimator{})
			_, err := svc.Import(context.Background(), strings.NewReader(tc.file))
			assert.ErrorIs(t, err, errs.ErrValidation)
		})
	}
}

func TestDelimiter(t *testing.T) {
	assert.Equal(t, '\t', delimiter([]byte("a\tb\tc\n1,5\t2\t3")))
	assert.Equal(t, ';', delimiter([]byte("a;b;c\n1,5;2;3")))
	assert.Equal(t, ',', delimiter([]byte("a,b,c")))
}
