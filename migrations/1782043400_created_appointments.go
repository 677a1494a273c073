package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}
		doctors, err := app.FindCollectionByNameOrId("doctors")
		if err != nil {
			return err
		}
		clinics, err := app.FindCollectionByNameOrId("clinics")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("appointments")

		collection.Fields.Add(
			&core.RelationField{Name: "patient", CollectionId: users.Id, Required: true, MaxSelect: 1},
			&core.RelationField{Name: "doctor", CollectionId: doctors.Id, Required: true, MaxSelect: 1},
			&core.RelationField{Name: "clinic", CollectionId: clinics.Id, Required: true, MaxSelect: 1},
			&core.TextField{Name: "date", Required: true, Max: 10},
			&core.TextField{Name: "slot_time", Required: true, Max: 5},
			&core.NumberField{Name: "token_number", Required: true, OnlyInt: true},
			&core.SelectField{
				Name:      "status",
				Values:    []string{"booked", "waiting", "in_progress", "completed", "cancelled", "no_show"},
				MaxSelect: 1,
				Required:  true,
			},
			&core.SelectField{
				Name:      "priority",
				Values:    []string{"normal", "emergency"},
				MaxSelect: 1,
				Required:  true,
			},
			&core.TextField{Name: "ref", Max: 20},
			&core.NumberField{Name: "fee"},
			&core.TextField{Name: "notes", Max: 2000},
			&core.DateField{Name: "checked_in_at"},
			&core.DateField{Name: "consult_started_at"},
			&core.DateField{Name: "consult_ended_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		// Cancelled and no-show appointments release their slot, so the
		// uniqueness guard only covers rows that still occupy one.
		collection.AddIndex("idx_appointments_slot", true,
			"doctor, date, slot_time",
			"status NOT IN ('cancelled', 'no_show')")
		collection.AddIndex("idx_appointments_token", true, "doctor, date, token_number", "")
		collection.AddIndex("idx_appointments_date_status", false, "date, status", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("appointments")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
