package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vitwit/gasstation/oracle"
	"github.com/vitwit/gasstation/types"
	"github.com/vitwit/gasstation/utils"
)

type payRequest struct {
	CoinType types.CoinType `json:"coinType" binding:"required"`
	Value    *uint64        `json:"value" binding:"required"`
	Owner    string         `json:"owner" binding:"omitempty,startswith=0x"`
}

type payResponse struct {
	Receipt        types.Receipt `json:"receipt"`
	AmountDisplay  string        `json:"amountDisplay"`
	BalanceDisplay string        `json:"balanceDisplay"`
}

func (s *Server) pay(c *gin.Context) {
	var req payRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, err.Error(), nil)
		return
	}

	coin := types.Coin{Type: req.CoinType, Value: *req.Value}
	if req.Owner != "" {
		owner, err := types.HexToAddress(req.Owner)
		if err != nil {
			s.writeError(c, err)
			return
		}
		coin.Owner = owner
	}

	receipt, err := s.station.PayTransactionFee(c.Request.Context(), callerFrom(c), coin)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, payResponse{
		Receipt:        receipt,
		AmountDisplay:  s.display(receipt.Amount),
		BalanceDisplay: s.display(receipt.Balance),
	})
}

// setPriceRequest carries the new price either in smallest units (Price) or
// as a decimal coin amount (Amount), never both.
type setPriceRequest struct {
	Price  string `json:"price" binding:"required_without=Amount,excluded_with=Amount"`
	Amount string `json:"amount" binding:"required_without=Price"`
}

func (s *Server) setPrice(c *gin.Context) {
	var req setPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, err.Error(), nil)
		return
	}

	var (
		price uint64
		err   error
	)
	if req.Price != "" {
		price, err = oracle.ParsePrice(req.Price)
	} else {
		price, err = utils.ParseAmount(req.Amount, s.decimals)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}

	if err := s.station.SetGasPrice(c.Request.Context(), callerFrom(c), price); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, priceResponse{
		Price:        price,
		PriceDisplay: s.display(price),
		CoinType:     s.station.Snapshot().CoinType,
	})
}

type adminRequest struct {
	Address string `json:"address" binding:"required,startswith=0x"`
}

type adminsResponse struct {
	Admins []types.Address `json:"admins"`
}

func (s *Server) addAdmin(c *gin.Context) {
	var req adminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, err.Error(), nil)
		return
	}
	addr, err := types.HexToAddress(req.Address)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if err := s.station.AddAdmin(c.Request.Context(), callerFrom(c), addr); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, adminsResponse{Admins: s.station.Snapshot().Admins})
}

func (s *Server) removeAdmin(c *gin.Context) {
	addr, err := types.HexToAddress(c.Param("address"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	if err := s.station.RemoveAdmin(c.Request.Context(), callerFrom(c), addr); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, adminsResponse{Admins: s.station.Snapshot().Admins})
}

type withdrawResponse struct {
	Amount        uint64 `json:"amount"`
	AmountDisplay string `json:"amountDisplay"`
}

func (s *Server) withdraw(c *gin.Context) {
	amount, err := s.station.WithdrawFunds(c.Request.Context(), callerFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, withdrawResponse{Amount: amount, AmountDisplay: s.display(amount)})
}

func (s *Server) display(units uint64) string {
	return utils.FormatAmount(units, s.decimals)
}
