package report

// Sheet titles of the temporary suspension report.
const (
	SheetFund               = "Фонд"
	SheetSuspendedFirst     = "вр_приост_1"
	SheetSuspendedExtension = "вр_приост_продление"
	SheetSuspendedLate      = "вр_приост_2"
	SheetLeavingSuspension  = "вывод_из_вр_приост"
)

const (
	suspensionHeaderRow    = 4
	suspensionHeaderHeight = 45
	suspensionDateFormat   = "dd.mm.yyyy"
)

func headerCell(col int, text string, width float64) HeaderCell {
	return HeaderCell{Row: suspensionHeaderRow, Col: col, Text: text, Width: width, Style: HeaderStyle()}
}

func suspensionBaseHeader() []HeaderCell {
	return []HeaderCell{
		headerCell(1, "УН", 20),
		headerCell(2, "Мест-е", 20),
		headerCell(3, "Номер", 10),
		headerCell(4, "Скв.", 12),
		headerCell(5, "КП", 12),
	}
}

func suspensionSheet(title, seal string, extra ...HeaderCell) WorksheetSpec {
	return WorksheetSpec{
		Title:      title,
		Seal:       []HeaderCell{{Row: 1, Col: 1, Text: seal, Style: SealStyle()}},
		Header:     append(suspensionBaseHeader(), extra...),
		RowHeights: map[int]float64{suspensionHeaderRow: suspensionHeaderHeight},
	}
}

func suspensionPeriodColumns() []HeaderCell {
	status := headerCell(6, "", 13)
	status.Label = LatestDateLabel
	endDate := headerCell(7, "Дата окончания строительства", 15)
	endDate.DateFormat = suspensionDateFormat
	period := headerCell(8, "срок вр_приост", 15)
	period.DateFormat = suspensionDateFormat
	start := headerCell(9, "Дата начала вр. приостановки", 15)
	start.DateFormat = suspensionDateFormat
	return []HeaderCell{status, endDate, period, start}
}

// TemporarySuspensionTemplate is the five-sheet report of wells in or around
// temporary suspension.
func TemporarySuspensionTemplate() *ReportTemplate {
	previous := headerCell(6, "", 14)
	previous.Label = PreviousMonthLabel
	last := headerCell(7, "", 13)
	last.Label = AsOfLabel

	return &ReportTemplate{
		Title: "Временные приостановки из ФОНДа ИНК",
		Sheets: []WorksheetSpec{
			suspensionSheet(SheetFund,
				"Лист в перечнем всех скважин, находящихся в бездействии и ожидании освоения",
				suspensionPeriodColumns()...),
			suspensionSheet(SheetSuspendedFirst,
				"Лист с перечнем скважин, находящихся в бездействии и ожидании освоения 1 календарный месяц",
				suspensionPeriodColumns()...),
			suspensionSheet(SheetSuspendedExtension,
				"Лист с перечнем временно приостановленных скважин, у которых проходит срок временной приостановки",
				suspensionPeriodColumns()...),
			suspensionSheet(SheetSuspendedLate,
				"Лист с перечнем скважин, по которым не выполнена вовремя временная приостановка",
				suspensionPeriodColumns()...),
			suspensionSheet(SheetLeavingSuspension,
				"Лист с перечнем скважин, которые были во временной приостановке, запущенные в отчетном месяце из бездействия или ожидания освоения",
				previous, last),
		},
	}
}
