// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

package rules

import (
	"fmt"
	"sort"

	"github.com/aquaops/aquaops-agent/pkg/cep"
)

// Template is a predefined detection pattern for the recurring plant
// operation events. Operators instantiate rules from these instead of
// writing SQL from scratch.
type Template struct {
	ID                     string         `json:"id"`
	Category               string         `json:"category"`
	Name                   string         `json:"name"`
	Description            string         `json:"description"`
	RuleDescription        string         `json:"rule_description"`
	SampleSQL              string         `json:"sample_sql"`
	DefaultIntervalMinutes int            `json:"default_interval_minutes"`
	DefaultThreshold       string         `json:"default_threshold"`
	RecommendedAction      cep.ActionType `json:"recommended_action"`
	DiagnosticQuestions    []string       `json:"diagnostic_questions"`
	SimpleQuestions        []string       `json:"simple_questions"`
	ActionQuestions        []string       `json:"action_questions"`
	SuggestedProcess       string         `json:"suggested_process,omitempty"`
}

// Rule instantiates an EventRule from the template defaults.
func (t *Template) Rule() *EventRule {
	rule := &EventRule{
		Name:                     t.Name,
		Description:              t.Description,
		NaturalLanguageCondition: t.RuleDescription,
		SQL:                      t.SampleSQL,
		CheckIntervalMinutes:     t.DefaultIntervalMinutes,
		ConditionThreshold:       t.DefaultThreshold,
		ActionType:               t.RecommendedAction,
		IsActive:                 true,
	}
	switch t.RecommendedAction {
	case cep.ActionAlert:
		rule.AlertConfig = &AlertConfig{
			Channels: []string{"platform"},
			Message:  fmt.Sprintf("%s: %s", t.Name, t.Description),
		}
	case cep.ActionProcess:
		rule.ProcessConfig = &ProcessConfig{
			ProcessName:   t.SuggestedProcess,
			ProcessParams: map[string]interface{}{},
		}
	}
	return rule
}

// Templates returns the full catalogue.
func Templates() []*Template {
	return templateCatalogue
}

// TemplatesByCategory filters the catalogue.
func TemplatesByCategory(category string) []*Template {
	var out []*Template
	for _, t := range templateCatalogue {
		if t.Category == category {
			out = append(out, t)
		}
	}
	return out
}

// TemplateCategories returns the distinct categories, sorted.
func TemplateCategories() []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range templateCatalogue {
		if !seen[t.Category] {
			seen[t.Category] = true
			out = append(out, t.Category)
		}
	}
	sort.Strings(out)
	return out
}

// TemplatesGrouped returns the catalogue keyed by category.
func TemplatesGrouped() map[string][]*Template {
	out := map[string][]*Template{}
	for _, t := range templateCatalogue {
		out[t.Category] = append(out[t.Category], t)
	}
	return out
}

// TemplateByID looks a template up.
func TemplateByID(id string) (*Template, bool) {
	for _, t := range templateCatalogue {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

var templateCatalogue = []*Template{
	{
		ID:              "gac-turbidity-rise",
		Category:        "여과(GAC)",
		Name:            "여과지 탁도 상승",
		Description:     "여과 효율 저하 또는 역세 시점 도래를 확인",
		RuleDescription: "여과지 탁도가 기준 이동평균 대비 지속적으로 상승하면서 최근 역세 이후에도 개선되지 않은 경우",
		SampleSQL: `SELECT
    filter_id,
    turbidity,
    AVG(turbidity) OVER (PARTITION BY filter_id ORDER BY measured_at ROWS BETWEEN 10 PRECEDING AND 1 PRECEDING) as avg_turbidity,
    measured_at
FROM filter_readings
WHERE measured_at >= NOW() - INTERVAL '1 hour'
  AND turbidity > (
    SELECT AVG(turbidity) * 1.2
    FROM filter_readings
    WHERE measured_at >= NOW() - INTERVAL '24 hours'
  )
GROUP BY filter_id, turbidity, measured_at
HAVING COUNT(*) >= 3`,
		DefaultIntervalMinutes: 10,
		DefaultThreshold:       DefaultRowGate,
		RecommendedAction:      cep.ActionAlert,
		DiagnosticQuestions: []string{
			"현재 탁도 동향은 어떠한가요?",
			"어떤 여과지인가요?",
			"최근 역세 이후 상태는?",
		},
		SimpleQuestions:  []string{"역세해도 탁도가 왜 안 떨어져요?"},
		ActionQuestions:  []string{"역세 시점을 앞당겨야 하나요?"},
		SuggestedProcess: "역세_스케줄_조정",
	},
	{
		ID:              "gac-backwash-error",
		Category:        "여과(GAC)",
		Name:            "역세 제어오류/역세 불량",
		Description:     "역세 지연 또는 역세 수문 동시 가동 오류 확인",
		RuleDescription: "역세 스케줄이 도래했으나 배수지/상수 수위 제약으로 역세 순서가 지연되거나 10회 이상 지연",
		SampleSQL: `SELECT
    filter_id,
    scheduled_time,
    actual_time,
    delay_count,
    water_level,
    status
FROM backwash_schedule
WHERE scheduled_time <= NOW()
  AND (actual_time IS NULL OR delay_count >= 10)
  AND status IN ('PENDING', 'DELAYED')
ORDER BY scheduled_time`,
		DefaultIntervalMinutes: 5,
		DefaultThreshold:       DefaultRowGate,
		RecommendedAction:      cep.ActionAlert,
		DiagnosticQuestions: []string{
			"지금 수위 조건 어때요?",
			"역세 순서가 밀린 이유는?",
		},
		SimpleQuestions:  []string{"이건 왜 안 돼요?"},
		ActionQuestions:  []string{"어떻게 해야 돼요?"},
		SuggestedProcess: "역세_수동_제어",
	},
	{
		ID:              "intake-water-level-risk",
		Category:        "착수",
		Name:            "정수지 수위 위험",
		Description:     "Human-in-the-loop 한 통보 및 상태 확인 필요",
		RuleDescription: "정수지 수위가 정상 범위(하한/상한)를 초과하거나 반복적으로 조건 발생 중인 경우",
		SampleSQL: `SELECT
    tank_id,
    water_level,
    lower_limit,
    upper_limit,
    measured_at,
    CASE
        WHEN water_level < lower_limit THEN 'LOW'
        WHEN water_level > upper_limit THEN 'HIGH'
        ELSE 'NORMAL'
    END as status
FROM water_tank_levels
WHERE measured_at >= NOW() - INTERVAL '30 minutes'
  AND (water_level < lower_limit OR water_level > upper_limit)
ORDER BY measured_at DESC`,
		DefaultIntervalMinutes: 5,
		DefaultThreshold:       DefaultRowGate,
		RecommendedAction:      cep.ActionAlert,
		DiagnosticQuestions: []string{
			"어떤 탱크가 문제인가요?",
			"어떤 여과 가동률로 분리해야 하는가?",
		},
		SimpleQuestions:  []string{"수위가 왜 이래요?"},
		ActionQuestions:  []string{"펌프 가동률을 조정해야 하나요?"},
		SuggestedProcess: "펌프_가동률_조정",
	},
	{
		ID:              "intake-pump-combination-fail",
		Category:        "착수",
		Name:            "펌프 조합 실패",
		Description:     "Human-in-the-loop 한 통보 및 상태 확인 필요",
		RuleDescription: "AI가 도출한 펌프 조합이 현장 조건을 충족하지 못할 때 (충돌 포함)",
		SampleSQL: `SELECT
    recommendation_id,
    pump_combination,
    failure_reason,
    constraint_violated,
    created_at
FROM pump_recommendations
WHERE status = 'FAILED'
  AND created_at >= NOW() - INTERVAL '1 hour'
ORDER BY created_at DESC`,
		DefaultIntervalMinutes: 10,
		DefaultThreshold:       DefaultRowGate,
		RecommendedAction:      cep.ActionAlert,
		DiagnosticQuestions:    []string{"왜 실패했어요?", "어떤 제약 조건이 위반됐나요?"},
		SimpleQuestions:        []string{"왜?"},
		ActionQuestions:        []string{"수동으로 조합을 설정해야 하나요?"},
		SuggestedProcess:       "펌프_수동_제어",
	},
	{
		ID:              "chemical-algorithm-error",
		Category:        "약품",
		Name:            "약품 알고리즘 분석 오류",
		Description:     "제어 제외 및 여과 공정 영향 가능",
		RuleDescription: "약품 제어에 필요한 센서 데이터에 결측 또는 측정값 급등락이 발생한 경우",
		SampleSQL: `SELECT
    sensor_id,
    sensor_type,
    value,
    prev_value,
    ABS(value - prev_value) / NULLIF(prev_value, 0) * 100 as change_percent,
    measured_at
FROM chemical_sensor_readings
WHERE measured_at >= NOW() - INTERVAL '30 minutes'
  AND (
    value IS NULL
    OR ABS(value - prev_value) / NULLIF(prev_value, 0) > 0.5
  )
ORDER BY measured_at DESC`,
		DefaultIntervalMinutes: 5,
		DefaultThreshold:       DefaultRowGate,
		RecommendedAction:      cep.ActionAlert,
		DiagnosticQuestions: []string{
			"가동 전진 시간은 얼마인가요?",
			"어떤 센서에서 오류가 발생했나요?",
		},
		SimpleQuestions:  []string{"센서 데이터가 왜 이상해요?"},
		ActionQuestions:  []string{"수동 제어로 전환해야 하나요?"},
		SuggestedProcess: "약품_수동_제어",
	},
	{
		ID:              "sedimentation-sludge-collector",
		Category:        "침전",
		Name:            "슬러지 수집기 가동 이상",
		Description:     "모터 또는 배관 신호로 진단 필요",
		RuleDescription: "슬러지 발생량 동향 또는 플로우 측정 기준에 비해 배수량이 낮아지거나 막힘 의심 시",
		SampleSQL: `SELECT
    collector_id,
    sludge_flow,
    expected_flow,
    motor_current,
    (expected_flow - sludge_flow) / NULLIF(expected_flow, 0) * 100 as flow_deficit_percent,
    measured_at
FROM sludge_collector_readings
WHERE measured_at >= NOW() - INTERVAL '1 hour'
  AND sludge_flow < expected_flow * 0.7
ORDER BY measured_at DESC`,
		DefaultIntervalMinutes: 15,
		DefaultThreshold:       DefaultRowGate,
		RecommendedAction:      cep.ActionProcess,
		DiagnosticQuestions: []string{
			"어디가 문제예요?",
			"막힘인가요 아니면 모터 문제인가요?",
		},
		SimpleQuestions:  []string{"왜 배수량이 적어요?"},
		ActionQuestions:  []string{"점검을 요청해야 하나요?"},
		SuggestedProcess: "설비_점검_요청",
	},
	{
		ID:              "ems-peak-forecast",
		Category:        "EMS",
		Name:            "향후 피크 정보",
		Description:     "비용 절감을 위한 사전 제어 권고",
		RuleDescription: "AI 전력 예측 결과 계약 전력 또는 내부 기준 초과일 경우",
		SampleSQL: `SELECT
    forecast_time,
    predicted_power_kw,
    contract_limit_kw,
    internal_limit_kw,
    predicted_power_kw - contract_limit_kw as over_contract,
    confidence
FROM power_forecast
WHERE forecast_time BETWEEN NOW() AND NOW() + INTERVAL '2 hours'
  AND predicted_power_kw > contract_limit_kw * 0.9
ORDER BY forecast_time`,
		DefaultIntervalMinutes: 30,
		DefaultThreshold:       DefaultRowGate,
		RecommendedAction:      cep.ActionProcess,
		DiagnosticQuestions: []string{
			"부하 예측도 해줘요?",
			"피크 시간대는 언제인가요?",
		},
		SimpleQuestions:  []string{"얼마 정도 절약해요?"},
		ActionQuestions:  []string{"부하를 분산시켜야 하나요?"},
		SuggestedProcess: "부하_분산_제어",
	},
	{
		ID:              "system-ai-failure",
		Category:        "통합(HW/SW)",
		Name:            "AI 분석/데이터 수집 실패",
		Description:     "운영 환경 점검 통보",
		RuleDescription: "AI 서버 Docker, 시각화 서버 또는 데이터 파이프라인 오류 발생 시",
		SampleSQL: `SELECT
    service_name,
    status,
    error_message,
    last_heartbeat,
    NOW() - last_heartbeat as downtime
FROM system_health
WHERE status != 'HEALTHY'
  OR last_heartbeat < NOW() - INTERVAL '5 minutes'
ORDER BY last_heartbeat DESC`,
		DefaultIntervalMinutes: 1,
		DefaultThreshold:       DefaultRowGate,
		RecommendedAction:      cep.ActionAlert,
		DiagnosticQuestions: []string{
			"어떤 서비스가 문제인가요?",
			"언제부터 문제가 발생했나요?",
		},
		SimpleQuestions:  []string{"시스템이 왜 안 돼요?"},
		ActionQuestions:  []string{"재시작해야 하나요?"},
		SuggestedProcess: "서비스_재시작",
	},
}
