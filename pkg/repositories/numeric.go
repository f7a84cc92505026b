package repositories

import (
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// numericArg converts a nullable decimal into a NUMERIC parameter.
func numericArg(d *decimal.Decimal) pgtype.Numeric {
	if d == nil {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// decimalDest scans a nullable NUMERIC column into a *decimal.Decimal field.
type decimalDest struct {
	dst **decimal.Decimal
}

func scanDecimal(dst **decimal.Decimal) *decimalDest {
	return &decimalDest{dst: dst}
}

func (s *decimalDest) ScanNumeric(v pgtype.Numeric) error {
	if !v.Valid || v.NaN || v.InfinityModifier != pgtype.Finite || v.Int == nil {
		*s.dst = nil
		return nil
	}
	d := decimal.NewFromBigInt(v.Int, v.Exp)
	*s.dst = &d
	return nil
}
