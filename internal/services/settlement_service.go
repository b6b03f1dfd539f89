package services

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/lojacraft/backend/internal/models"
)

// SettlementService exports approved transactions as ISO 20022 pacs.008
// credit transfer messages for back-office reconciliation with the PSP.
type SettlementService struct {
	ledger *LedgerService
}

func NewSettlementService(ledger *LedgerService) *SettlementService {
	return &SettlementService{ledger: ledger}
}

// ExportSettlement exports approved transactions since a given timestamp.
// @Summary Export settlement batch
// @Description Export approved transactions as an ISO20022 pacs.008 message
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param since query string false "RFC3339 lower bound (default: last 24h)"
// @Success 200 {object} object{status=string,messageType=string,transactions=int,xml=string}
// @Failure 500 {object} services.ErrorResponse
// @Router /admin/settlement/export [get]
func (s *SettlementService) ExportSettlement(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			SendErrorResponse(w, "Invalid 'since' timestamp, expected RFC3339", http.StatusBadRequest, nil)
			return
		}
		since = parsed
	}

	transactions, err := s.ledger.ApprovedTransactionsSince(since)
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to load approved transactions: %v", err)
		SendErrorResponse(w, "Failed to load transactions", http.StatusInternalServerError, nil)
		return
	}

	doc, err := s.CreatePacs008(transactions)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	xmlData, err := s.ConvertToXML(doc)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[SETTLEMENT] Exported %d transactions since %s", len(transactions), since.Format(time.RFC3339))
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       "exported",
		"messageType":  "pacs.008.001.08",
		"transactions": len(transactions),
		"xml":          xmlData,
	})
}

// CreatePacs008 builds one FIToFICustomerCreditTransfer message carrying one
// credit transfer per approved transaction. Amounts are stored in minor units
// and exported as decimal currency values.
func (s *SettlementService) CreatePacs008(transactions []models.Transaction) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()

	var total int64
	currency := "BRL"
	txInfos := make([]pacs_v08.CreditTransferTransaction39, 0, len(transactions))

	for i := range transactions {
		tx := &transactions[i]
		total += tx.Amount
		currency = tx.Currency

		txInfos = append(txInfos, pacs_v08.CreditTransferTransaction39{
			PmtId: pacs_v08.PaymentIdentification7{
				InstrId:    &[]common.Max35Text{common.Max35Text(tx.ID)}[0],
				EndToEndId: common.Max35Text(tx.PaymentRef),
				TxId:       &[]common.Max35Text{common.Max35Text(tx.ID)}[0],
			},
			IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(tx.Currency),
				Value: float64(tx.Amount) / 100,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			ChrgBr:        "SLEV",
			DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
				FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
					BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier("LOJACRFT")}[0],
				},
			},
			Dbtr: pacs_v08.PartyIdentification135{
				Nm: &[]common.Max140Text{common.Max140Text(fmt.Sprintf("user:%d", tx.UserID))}[0],
			},
			CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
				FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
					ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
						MmbId: common.Max35Text("PIXPSP"),
					},
				},
			},
			Cdtr: pacs_v08.PartyIdentification135{
				Nm: &[]common.Max140Text{common.Max140Text("LojaCraft Store")}[0],
			},
		})
	}

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: common.Max15NumericText(strconv.Itoa(len(transactions))),
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(currency),
				Value: float64(total) / 100,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: txInfos,
	}

	return doc, nil
}

// ConvertToXML converts an ISO20022 document to an XML string.
func (s *SettlementService) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
