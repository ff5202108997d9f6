package scenario

// QuickScenario は動作確認用の2ステップシナリオを返す
func QuickScenario() Scenario {
	return Scenario{
		ID:          "quick",
		Name:        "Quick breaker drill",
		Description: "Open a breaker, then close it again with dispatcher confirmation",
		Steps: []Step{
			{
				Order:       1,
				Description: "Abra el interruptor 52-1 de la subestación Norte",
				ActionType:  ActionBreakerOpen,
				PointValue:  10,
			},
			{
				Order:            2,
				Description:      "Cierre el interruptor 52-1 y escriba la confirmación del despacho",
				ActionType:       ActionBreakerClose,
				ExpectedValue:    "confirmado",
				PointValue:       20,
				IsCritical:       true,
				TimeLimitSeconds: 30,
			},
		},
	}
}

// BreakerIsolationScenario は故障区間の遮断と接地の手順を返す
func BreakerIsolationScenario() Scenario {
	return Scenario{
		ID:          "breaker-isolation",
		Name:        "Faulted section isolation",
		Description: "Isolate a faulted 13.2 kV section and make it safe for line crews",
		Steps: []Step{
			{
				Order:       1,
				Description: "Reconozca la alarma de sobrecorriente en el alimentador F-12",
				ActionType:  ActionAcknowledgeAlarm,
				PointValue:  5,
			},
			{
				Order:            2,
				Description:      "Abra el interruptor de cabecera del alimentador F-12",
				ActionType:       ActionBreakerOpen,
				ExpectedValue:    "F-12",
				PointValue:       15,
				IsCritical:       true,
				TimeLimitSeconds: 45,
			},
			{
				Order:         3,
				Description:   "Aísle el tramo fallado abriendo los seccionadores del tramo",
				ActionType:    ActionIsolateLine,
				ExpectedValue: "abierto",
				PointValue:    15,
			},
			{
				Order:            4,
				Description:      "Verifique ausencia de tensión en el tramo aislado",
				ActionType:       ActionVerifyNoVoltage,
				ExpectedValue:    "0 kV",
				PointValue:       20,
				IsCritical:       true,
				TimeLimitSeconds: 60,
			},
			{
				Order:       5,
				Description: "Ponga a tierra el tramo aislado",
				ActionType:  ActionGroundLine,
				PointValue:  20,
				IsCritical:  true,
			},
			{
				Order:         6,
				Description:   "Notifique al despacho que el tramo está en condición segura",
				ActionType:    ActionNotifyDispatch,
				ExpectedValue: "tramo seguro",
				PointValue:    10,
			},
		},
	}
}

// VoltageRegulationScenario は電圧逸脱への対応手順を返す
func VoltageRegulationScenario() Scenario {
	return Scenario{
		ID:          "voltage-regulation",
		Name:        "Bus voltage excursion",
		Description: "Bring a 115 kV bus back into its operating band",
		Steps: []Step{
			{
				Order:       1,
				Description: "Reconozca la alarma de alta tensión en la barra B2",
				ActionType:  ActionAcknowledgeAlarm,
				PointValue:  5,
			},
			{
				Order:            2,
				Description:      "Baje el tap del transformador T1 a la posición indicada",
				ActionType:       ActionAdjustVoltage,
				ExpectedValue:    "tap 7",
				PointValue:       25,
				IsCritical:       true,
				TimeLimitSeconds: 40,
			},
			{
				Order:         3,
				Description:   "Transfiera carga de la barra B2 a la barra B1",
				ActionType:    ActionTransferLoad,
				ExpectedValue: "B1",
				PointValue:    20,
			},
			{
				Order:       4,
				Description: "Informe al despacho la tensión final de la barra",
				ActionType:  ActionNotifyDispatch,
				PointValue:  10,
			},
		},
	}
}

// FeederRestorationScenario は停電後の送電再開手順を返す
func FeederRestorationScenario() Scenario {
	return Scenario{
		ID:          "feeder-restoration",
		Name:        "Feeder restoration",
		Description: "Restore service after a cleared fault",
		Steps: []Step{
			{
				Order:         1,
				Description:   "Confirme con la cuadrilla el retiro de la puesta a tierra",
				ActionType:    ActionNotifyDispatch,
				ExpectedValue: "tierra retirada",
				PointValue:    15,
				IsCritical:    true,
			},
			{
				Order:            2,
				Description:      "Cierre el interruptor de cabecera del alimentador F-12",
				ActionType:       ActionBreakerClose,
				ExpectedValue:    "F-12",
				PointValue:       20,
				IsCritical:       true,
				TimeLimitSeconds: 30,
			},
			{
				Order:            3,
				Description:      "Restablezca el alimentador por etapas",
				ActionType:       ActionRestoreFeeder,
				PointValue:       20,
				TimeLimitSeconds: 90,
			},
		},
	}
}

// GetPreset は名前からプリセットシナリオを取得する
func GetPreset(name string) (Scenario, bool) {
	presets := map[string]func() Scenario{
		"quick":              QuickScenario,
		"breaker-isolation":  BreakerIsolationScenario,
		"voltage-regulation": VoltageRegulationScenario,
		"feeder-restoration": FeederRestorationScenario,
	}

	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Scenario{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	return []string{"quick", "breaker-isolation", "voltage-regulation", "feeder-restoration"}
}
