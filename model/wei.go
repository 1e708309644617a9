package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Wei is an integer amount in the chain's smallest unit. Postgres stores it as
// numeric(78,0) so the full uint256 range fits; other dialects store the
// decimal text, since sqlite would coerce large numerics to REAL.
type Wei struct {
	v *big.Int
}

func NewWei(v *big.Int) Wei {
	if v == nil {
		return Wei{}
	}
	return Wei{v: new(big.Int).Set(v)}
}

func WeiFromInt64(v int64) Wei {
	return Wei{v: big.NewInt(v)}
}

// Big returns a copy; a zero Wei yields 0.
func (w Wei) Big() *big.Int {
	if w.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(w.v)
}

func (w Wei) Sign() int {
	if w.v == nil {
		return 0
	}
	return w.v.Sign()
}

func (w Wei) Cmp(o Wei) int {
	return w.Big().Cmp(o.Big())
}

func (w Wei) Add(o Wei) Wei {
	return Wei{v: new(big.Int).Add(w.Big(), o.Big())}
}

func (w Wei) Sub(o Wei) Wei {
	return Wei{v: new(big.Int).Sub(w.Big(), o.Big())}
}

func (w Wei) String() string {
	return w.Big().String()
}

func (Wei) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "numeric(78,0)"
	}
	return "text"
}

func (w *Wei) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		w.v = new(big.Int)
		return nil
	case int64:
		w.v = big.NewInt(v)
		return nil
	case float64:
		return fmt.Errorf("wei: refusing lossy float value %v", v)
	case []byte:
		return w.parse(string(v))
	case string:
		return w.parse(v)
	default:
		return fmt.Errorf("wei: unsupported scan type %T", src)
	}
}

func (w *Wei) parse(s string) error {
	s = strings.TrimSpace(s)
	// numeric columns may come back as "123.0" or "1e+21"
	if i := strings.IndexByte(s, '.'); i >= 0 && strings.Trim(s[i+1:], "0") == "" {
		s = s[:i]
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		f, _, err := big.ParseFloat(s, 10, 256, big.ToNearestEven)
		if err != nil {
			return fmt.Errorf("wei: invalid value %q", s)
		}
		v, _ = f.Int(nil)
	}
	w.v = v
	return nil
}

func (w Wei) Value() (driver.Value, error) {
	return w.Big().String(), nil
}

func (w Wei) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.String())
}

func (w *Wei) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		s = n.String()
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return fmt.Errorf("wei: invalid value %q", s)
	}
	return w.parse(s)
}
