package upwork

import (
	"fmt"

	"jobwatch/internal/domain"
)

const jobFields = `
        id
        title
        ciphertext
        description
        type
        duration
        amount {
          amount
        }
        publishedOn:publishedDateTime
        connectPrice
        client {
          totalHires
          totalSpent
          paymentVerificationStatus
          location {
            country
          }
          totalReviews
          totalFeedback
        }
        tierText
        proposalsTier
        %s
        hourlyBudget {
          min
          max
        }`

var bestMatchQuery = `
  query bestMatches {
    bestMatchJobsFeed(limit: 30) {
      results {` + fmt.Sprintf(jobFields, "attrs {\n          prettyName\n        }") + `
      }
    }
  }
`

var mostRecentQuery = `
  query($limit: Int, $toTime: String) {
    mostRecentJobsFeed(limit: $limit, toTime: $toTime) {
      results {` + fmt.Sprintf(jobFields, "attrs:skills {\n          prettyName:prefLabel\n        }") + `
      }
    }
  }
`

const savedSearchesQuery = `
  query userSavedSearches {
    userSavedSearches {
      results {
        id
        title
        ciphertext
        description
        type
        duration
        amount {
          displayValue
        }
        publishedOn:publishedDateTime
        connectPrice
        client {
          totalHires
          totalSpent {
            displayValue
          }
          paymentVerificationStatus
          location {
            country
          }
          totalReviews
          totalFeedback
        }
        contractorTier
        proposalsTier
        skills {
          prettyName
        }
        hourlyBudget {
          min
          max
        }
      }
    }
  }
`

// feedQuery describes how one feed is requested and where its results live
// in the response.
type feedQuery struct {
	field     string
	query     string
	variables map[string]any
}

func queryFor(feed domain.FeedSelector) (feedQuery, bool) {
	switch feed {
	case domain.FeedPrimary:
		return feedQuery{field: "userSavedSearches", query: savedSearchesQuery}, true
	case domain.FeedBestMatch:
		return feedQuery{
			field:     "bestMatchJobsFeed",
			query:     bestMatchQuery,
			variables: map[string]any{"fromTime": 0, "toTime": 30},
		}, true
	case domain.FeedMostRecent:
		return feedQuery{
			field:     "mostRecentJobsFeed",
			query:     mostRecentQuery,
			variables: map[string]any{"limit": 10},
		}, true
	}
	return feedQuery{}, false
}
