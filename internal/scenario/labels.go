package scenario

// Labels は操作種別から表示名への不変テーブル
type Labels struct {
	names map[ActionType]string
}

// NewLabels は指定されたマップをコピーしてテーブルを作成する
func NewLabels(names map[ActionType]string) Labels {
	m := make(map[ActionType]string, len(names))
	for k, v := range names {
		m[k] = v
	}
	return Labels{names: m}
}

// DefaultLabels は組み込みの表示名テーブルを返す
// 呼び出しごとに新しいテーブルを構築する
func DefaultLabels() Labels {
	return NewLabels(map[ActionType]string{
		ActionBreakerOpen:      "Abrir interruptor",
		ActionBreakerClose:     "Cerrar interruptor",
		ActionAdjustVoltage:    "Ajustar tensión",
		ActionIsolateLine:      "Aislar línea",
		ActionGroundLine:       "Poner a tierra",
		ActionVerifyNoVoltage:  "Verificar ausencia de tensión",
		ActionNotifyDispatch:   "Notificar al despacho",
		ActionAcknowledgeAlarm: "Reconocer alarma",
		ActionRestoreFeeder:    "Restablecer alimentador",
		ActionTransferLoad:     "Transferir carga",
	})
}

// Label は表示名を返す。未登録の場合は種別の文字列そのものを返す
func (l Labels) Label(a ActionType) string {
	if name, ok := l.names[a]; ok {
		return name
	}
	return string(a)
}

// Len は登録数を返す
func (l Labels) Len() int {
	return len(l.names)
}
