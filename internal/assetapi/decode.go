package assetapi

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/upendohq/idhini/model"
)

// The asset service has emitted approval-level rows under several key
// spellings across releases. All of them collapse into model.StepRecord
// here; nothing downstream ever sees a raw map.
var (
	stepIDKeys     = []string{"wfaiisd_id", "step_id", "id"}
	sequenceKeys   = []string{"approval_level", "level", "sequence"}
	roleIDKeys     = []string{"role_id", "approver_role_id"}
	roleNameKeys   = []string{"role_name", "approver_role_name", "role"}
	statusKeys     = []string{"status", "approval_status"}
	approvedAtKeys = []string{"approved_at", "action_date", "updated_at"}
	commentKeys    = []string{"comment", "comments", "remarks"}
)

// acceptedTimeLayouts lists the timestamp formats the backend has been
// observed to emit.
var acceptedTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// decodeStepRecords converts raw step rows into canonical StepRecords.
// Rows that are not objects are skipped; a row with no resolvable ID keeps
// an empty ID rather than being dropped, so chain lengths stay truthful.
func decodeStepRecords(raw []json.RawMessage) []model.StepRecord {
	records := make([]model.StepRecord, 0, len(raw))
	for _, row := range raw {
		var m map[string]any
		if err := json.Unmarshal(row, &m); err != nil {
			continue
		}
		records = append(records, decodeStepRecord(m))
	}
	return records
}

func decodeStepRecord(m map[string]any) model.StepRecord {
	return model.StepRecord{
		ID:         firstString(m, stepIDKeys),
		Sequence:   firstInt(m, sequenceKeys),
		Level:      coerceInt(m["level"]),
		RoleID:     firstString(m, roleIDKeys),
		RoleName:   firstString(m, roleNameKeys),
		Status:     strings.ToUpper(firstString(m, statusKeys)),
		ApprovedAt: firstTime(m, approvedAtKeys),
		Comment:    firstString(m, commentKeys),
	}
}

// firstString returns the first non-empty string value among the keys.
func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s := coerceString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// firstInt returns the first key present, coerced to int. Non-numeric
// values coerce to 0 and are not treated as an error.
func firstInt(m map[string]any, keys []string) int {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return coerceInt(v)
		}
	}
	return 0
}

func firstTime(m map[string]any, keys []string) *time.Time {
	for _, k := range keys {
		s := coerceString(m[k])
		if s == "" {
			continue
		}
		for _, layout := range acceptedTimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return &t
			}
		}
	}
	return nil
}

func coerceString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

func coerceInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}
