package query

import "github.com/hitoshi/careportal/internal/model"

// invalidationPolicy は書き込み対象のリソースから、成功時に無効化するリソースへの対応。
// 予約の作成で患者一覧の集計値が変わるなど、派生データを持つリソースも含める。
var invalidationPolicy = map[string][]string{
	model.ResourceAppointments:  {model.ResourceAppointments, model.ResourcePatients},
	model.ResourcePrescriptions: {model.ResourcePrescriptions, model.ResourcePatients},
	model.ResourcePayments:      {model.ResourcePayments, model.ResourceAppointments},
	model.ResourceUsers:         {model.ResourceUsers, model.ResourceDoctors, model.ResourcePatients},
	model.ResourcePatients:      {model.ResourcePatients},
	model.ResourceDoctors:       {model.ResourceDoctors},
	model.ResourceMedications:   {model.ResourceMedications},
}

// InvalidationTargets はresourceへの書き込み成功時に無効化するリソース名を返す。
// 未定義のリソースはそれ自身のみを対象とする。
func InvalidationTargets(resource string) []string {
	targets, ok := invalidationPolicy[resource]
	if !ok {
		return []string{resource}
	}
	out := make([]string, len(targets))
	copy(out, targets)
	return out
}
