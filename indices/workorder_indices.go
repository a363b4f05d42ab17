package indices

import (
	"fmt"

	"maintos/domain/workorder"
	"maintos/es"

	"github.com/fundwit/go-commons/types"
	"github.com/sirupsen/logrus"
)

var (
	WorkOrderIndexName = "work-orders"
)

type WorkOrderDocument struct {
	workorder.WorkOrder
}

type BatchActionError map[types.ID]error

func (e BatchActionError) Error() string {
	return fmt.Sprintf("%v", map[types.ID]error(e))
}

func IndexWorkOrders(orders []workorder.WorkOrder) error {
	docs := make([]WorkOrderDocument, 0, len(orders))
	for _, order := range orders {
		docs = append(docs, WorkOrderDocument{WorkOrder: order})
	}

	if err := saveWorkOrderDocuments(docs); err != nil {
		return err
	}
	return nil
}

func saveWorkOrderDocuments(docs []WorkOrderDocument) BatchActionError {
	errs := BatchActionError{}

	for _, doc := range docs {
		if err := es.IndexFunc(WorkOrderIndexName, doc.ID, doc); err != nil {
			errs[doc.ID] = err
			logrus.Warnf("index work order %d %s %s\n", doc.ID, doc.Identifier, err)
		} else {
			logrus.Infof("index work order %d %s successfully\n", doc.ID, doc.Identifier)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}
