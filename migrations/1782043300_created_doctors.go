package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		clinics, err := app.FindCollectionByNameOrId("clinics")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("doctors")

		collection.Fields.Add(
			&core.TextField{Name: "name", Required: true, Max: 200},
			&core.RelationField{
				Name:          "clinic",
				CollectionId:  clinics.Id,
				Required:      true,
				MaxSelect:     1,
				CascadeDelete: true,
			},
			&core.TextField{Name: "specialty", Max: 200},
			&core.BoolField{Name: "active"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_doctors_clinic", false, "clinic", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("doctors")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
