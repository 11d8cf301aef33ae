package model

// UserProfile is the whole remote user document.
type UserProfile struct {
	UserID         string          `json:"userId"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Location       *LocationSample `json:"location"`
	ShareLocation  bool            `json:"shareLocation"`
	TrackingCode   string          `json:"trackingCode"`
	Friends        []string        `json:"friends"`
	FriendRequests []string        `json:"friendRequests"`
	SentRequests   []string        `json:"sentRequests"`
}

func (u UserProfile) Record() UserLocationRecord {
	return UserLocationRecord{
		UserID:        u.UserID,
		Location:      u.Location,
		ShareLocation: u.ShareLocation,
		TrackingCode:  u.TrackingCode,
	}
}

func (u UserProfile) IsFriend(id string) bool {
	return contains(u.Friends, id)
}

func (u UserProfile) HasSentRequest(to string) bool {
	return contains(u.SentRequests, to)
}

func (u UserProfile) HasRequestFrom(from string) bool {
	return contains(u.FriendRequests, from)
}

// FriendSummary is one row of the friends list.
type FriendSummary struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Email         string          `json:"email"`
	Location      *LocationSample `json:"location"`
	ShareLocation bool            `json:"shareLocation"`
}

func SummaryOf(u UserProfile) FriendSummary {
	return FriendSummary{
		ID:            u.UserID,
		Name:          u.Name,
		Email:         u.Email,
		Location:      u.Location,
		ShareLocation: u.ShareLocation,
	}
}

// Visible reports whether the friend can be shown on the map.
func (f FriendSummary) Visible() bool {
	return f.ShareLocation && f.Location != nil
}

// UserSummary is a search hit.
type UserSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	RequestSent bool   `json:"requestSent"`
}

// FriendsView is what the friends listener pushes: accepted friends plus the
// profiles of pending incoming requests.
type FriendsView struct {
	Friends  []FriendSummary `json:"friends"`
	Requests []UserSummary   `json:"requests"`
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
