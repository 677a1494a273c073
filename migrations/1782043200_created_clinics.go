package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("clinics")

		collection.Fields.Add(
			&core.TextField{Name: "name", Required: true, Max: 200},
			&core.TextField{Name: "opening_time", Required: true, Max: 5},
			&core.TextField{Name: "closing_time", Required: true, Max: 5},
			&core.NumberField{Name: "consultation_minutes", Required: true, OnlyInt: true},
			&core.NumberField{Name: "buffer_minutes", OnlyInt: true},
			&core.JSONField{Name: "break_windows", MaxSize: 2000},
			&core.SelectField{
				Name:      "working_days",
				Values:    []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"},
				MaxSelect: 7,
				Required:  true,
			},
			&core.NumberField{Name: "consultation_fee"},
			&core.BoolField{Name: "active"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("clinics")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
