//go:build e2e

package e2e

import (
	"context"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/option"
)

func createLegacyTable(ctx context.Context, endpoint string) error {
	client, err := bigquery.NewClient(ctx, projectID,
		option.WithEndpoint(endpoint),
		option.WithoutAuthentication(),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	return client.Dataset(datasetID).Table("legacy").Create(ctx, &bigquery.TableMetadata{
		Schema: bigquery.Schema{
			{Name: "city", Type: bigquery.StringFieldType},
			{Name: "temp", Type: bigquery.FloatFieldType},
		},
	})
}
